package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/karlseguin/ccache/v3"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/stay-reservations/internal/domain"
	"github.com/robertarktes/stay-reservations/internal/observability"
	"github.com/shopspring/decimal"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// PlaceSource is the authoritative catalog behind PlaceCache.
type PlaceSource interface {
	GetPlace(ctx context.Context, id uuid.UUID) (*domain.Place, error)
}

// PlaceCache serves places from an in-process cache, then redis, then the
// source. Entries live for ttl in both tiers, so a price change can take up
// to ttl to reach quotes. Confirm still compares against the paid amount.
type PlaceCache struct {
	source PlaceSource
	client *redis.Client
	local  *ccache.Cache[*domain.Place]
	ttl    time.Duration
	logger observability.Logger
}

func NewPlaceCache(source PlaceSource, client *redis.Client, ttl time.Duration, logger observability.Logger) *PlaceCache {
	return &PlaceCache{
		source: source,
		client: client,
		local:  ccache.New(ccache.Configure[*domain.Place]().MaxSize(10000)),
		ttl:    ttl,
		logger: logger,
	}
}

type cachedPlace struct {
	ID        uuid.UUID       `json:"id"`
	OwnerID   uuid.UUID       `json:"owner_id"`
	Price     decimal.Decimal `json:"price"`
	Currency  domain.Currency `json:"currency"`
	MaxGuests int             `json:"max_guests"`
}

func placeKey(id uuid.UUID) string {
	return "place:" + id.String()
}

func (c *PlaceCache) GetPlace(ctx context.Context, id uuid.UUID) (*domain.Place, error) {
	key := placeKey(id)
	if item := c.local.Get(key); item != nil && !item.Expired() {
		p := *item.Value()
		return &p, nil
	}

	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var cp cachedPlace
		if err := json.Unmarshal(raw, &cp); err == nil {
			p := domain.Place(cp)
			c.local.Set(key, &p, c.ttl)
			out := p
			return &out, nil
		}
	} else if err != redis.Nil {
		c.logger.WithError(err).WithField("place_id", id).Warn("place cache read failed")
	}

	p, err := c.source.GetPlace(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, p)
	out := *p
	return &out, nil
}

func (c *PlaceCache) store(ctx context.Context, key string, p *domain.Place) {
	cp := *p
	c.local.Set(key, &cp, c.ttl)
	raw, err := json.Marshal(cachedPlace(cp))
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("place_id", p.ID).Warn("place cache write failed")
	}
}

// Invalidate drops a place from both tiers, e.g. after a listing update.
func (c *PlaceCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	key := placeKey(id)
	c.local.Delete(key)
	return c.client.Del(ctx, key).Err()
}
