// Package idempotency replays stored responses for retried POST requests
// carrying an Idempotency-Key header.
package idempotency

import (
	"bytes"
	"context"
	"net/http"
	"time"

	redisadapter "github.com/robertarktes/stay-reservations/internal/adapters/redis"
	"github.com/robertarktes/stay-reservations/internal/observability"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"

	lockTTL = 30 * time.Second
)

type Store interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Idempotency struct {
	store  Store
	ttl    time.Duration
	logger observability.Logger
}

func NewIdempotency(store Store, ttl time.Duration, logger observability.Logger) *Idempotency {
	return &Idempotency{store: store, ttl: ttl, logger: logger}
}

// ScopeFunc namespaces keys, normally by the authenticated caller, so two
// users cannot collide on the same key.
type ScopeFunc func(r *http.Request) string

// Middleware replays the first completed response for a key. Requests
// without a key pass through. Server errors are not stored so the client
// can retry them.
func (i *Idempotency) Middleware(scope ScopeFunc) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderKey)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > 255 {
				http.Error(w, "invalid Idempotency-Key", http.StatusBadRequest)
				return
			}
			full := scope(r) + ":" + r.URL.Path + ":" + key
			ctx := r.Context()
			log := observability.LoggerFrom(ctx, i.logger).WithField("idempotency_key", key)

			stored, err := i.store.Get(ctx, full)
			if err != nil {
				log.WithError(err).Warn("idempotency lookup failed")
				next.ServeHTTP(w, r)
				return
			}
			if stored != nil {
				replay(w, stored)
				return
			}

			locked, err := i.store.Lock(ctx, full, lockTTL)
			if err != nil {
				log.WithError(err).Warn("idempotency lock failed")
				next.ServeHTTP(w, r)
				return
			}
			if !locked {
				http.Error(w, "request with this Idempotency-Key is in progress", http.StatusConflict)
				return
			}
			defer func() {
				if err := i.store.Unlock(context.WithoutCancel(ctx), full); err != nil {
					log.WithError(err).Warn("idempotency unlock failed")
				}
			}()

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				return
			}
			resp := redisadapter.IdempResponse{
				Status: rec.status,
				Header: http.Header{"Content-Type": w.Header().Values("Content-Type")},
				Result: rec.body.Bytes(),
			}
			if err := i.store.Set(context.WithoutCancel(ctx), full, resp, i.ttl); err != nil {
				log.WithError(err).Warn("idempotency store failed")
			}
		})
	}
}

func replay(w http.ResponseWriter, resp *redisadapter.IdempResponse) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(HeaderReplayed, "true")
	w.WriteHeader(resp.Status)
	w.Write(resp.Result)
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
