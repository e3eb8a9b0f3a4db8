package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/stay-reservations/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/stay-reservations/internal/adapters/mongo"
	"github.com/robertarktes/stay-reservations/internal/adapters/payment"
	redisadapter "github.com/robertarktes/stay-reservations/internal/adapters/redis"
	"github.com/robertarktes/stay-reservations/internal/config"
	httphandler "github.com/robertarktes/stay-reservations/internal/http"
	"github.com/robertarktes/stay-reservations/internal/idempotency"
	"github.com/robertarktes/stay-reservations/internal/observability"
	"github.com/robertarktes/stay-reservations/internal/rateLimit"
	"github.com/robertarktes/stay-reservations/internal/reservation"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.SetupOTel(ctx, cfg, "stay-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger(observability.WithLevel(cfg.LogLevel), observability.WithFile(cfg.LogFile))

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate crdb: %v", err)
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)
	places := redisadapter.NewPlaceCache(catalog, redisClient, cfg.PlaceCacheTTL, logger)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL, logger)
	rl := rateLimit.NewRateLimiter(rateLimit.NewRedisCounter(redisCache), logger)

	gateway := payment.NewClient(cfg.PaymentAPIURL, cfg.PaymentAPIKey, cfg.PaymentTimeout, logger)
	workflow := reservation.NewWorkflow(places, repo, gateway, logger,
		reservation.WithAudit(audit),
		reservation.WithGatewayTimeout(cfg.PaymentTimeout),
	)

	jwtKey, err := httphandler.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("failed to load jwt key: %v", err)
	}

	handlers := httphandler.NewHandlers(workflow, logger, map[string]httphandler.ReadinessCheck{
		"crdb":  repo.Ping,
		"mongo": func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) },
		"redis": redisCache.Ping,
	})
	r := httphandler.SetupRouter(handlers, httphandler.RouterDeps{
		Logger:      logger,
		JWTKey:      jwtKey,
		RateLimiter: rl,
		Limits: rateLimit.Limits{
			PerUser: cfg.RateLimitPerUser,
			PerIP:   cfg.RateLimitPerIP,
			Window:  cfg.RateLimitWindow,
		},
		Idempotency: idemp,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped with error")
	}
	logger.Info("Server exiting")
}
