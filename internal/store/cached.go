package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/notebookdir/internal/cache"
	"github.com/DukeRupert/notebookdir/internal/domain"
	"github.com/DukeRupert/notebookdir/internal/metrics"
)

// Cached decorates a Store with a read-through cache of subscriptions.
// Every write that returns a subscription invalidates that user's entry.
// Cache failures are logged and fall through to the underlying store.
type Cached struct {
	Store
	cache  cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached wraps next with c.
func NewCached(next Store, c cache.Cache, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{Store: next, cache: c, ttl: ttl, logger: logger}
}

// cachedSubscription keeps the fields domain.Subscription hides from JSON.
type cachedSubscription struct {
	domain.Subscription
	LastEventID string     `json:"last_event_id,omitempty"`
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
}

func subscriptionKey(userID string) string {
	return "subscription:" + userID
}

func (c *Cached) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	raw, err := c.cache.Get(ctx, subscriptionKey(userID))
	switch {
	case err == nil:
		var cs cachedSubscription
		if jsonErr := json.Unmarshal(raw, &cs); jsonErr == nil {
			metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
			sub := cs.Subscription
			sub.LastEventID = cs.LastEventID
			sub.LastEventAt = cs.LastEventAt
			return &sub, nil
		}
		metrics.CacheRequestsTotal.WithLabelValues("error").Inc()
	case errors.Is(err, cache.ErrMiss):
		metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
	default:
		metrics.CacheRequestsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("subscription cache read failed", "user_id", userID, "error", err)
	}

	sub, err := c.Store.GetSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.put(ctx, sub)
	return sub, nil
}

func (c *Cached) UpsertSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	out, err := c.Store.UpsertSubscription(ctx, sub)
	c.invalidate(ctx, sub.UserID)
	return out, err
}

func (c *Cached) SetCancelAtPeriodEnd(ctx context.Context, userID string, cancel bool) (*domain.Subscription, error) {
	out, err := c.Store.SetCancelAtPeriodEnd(ctx, userID, cancel)
	c.invalidate(ctx, userID)
	return out, err
}

func (c *Cached) put(ctx context.Context, sub *domain.Subscription) {
	raw, err := json.Marshal(cachedSubscription{
		Subscription: *sub,
		LastEventID:  sub.LastEventID,
		LastEventAt:  sub.LastEventAt,
	})
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, subscriptionKey(sub.UserID), raw, c.ttl); err != nil {
		c.logger.Warn("subscription cache write failed", "user_id", sub.UserID, "error", err)
	}
}

func (c *Cached) invalidate(ctx context.Context, userID string) {
	if err := c.cache.Delete(ctx, subscriptionKey(userID)); err != nil {
		c.logger.Warn("subscription cache invalidation failed", "user_id", userID, "error", err)
	}
}
