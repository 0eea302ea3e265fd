// Package quota enforces per-owner daily action ceilings. Every
// browser-backed action passes through the guard before any side effect is
// attempted, so a refusal is always a clean no-op.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vintaloop/go-listing-backend/internal/config"
	"github.com/vintaloop/go-listing-backend/internal/kv"
	"github.com/vintaloop/go-listing-backend/internal/metrics"
)

// ErrExceeded means the owner's daily allowance for an action kind is used
// up. The action must not be attempted; counters are only ever charged for
// actions that will run.
var ErrExceeded = errors.New("daily quota exceeded")

// Kind names a quota-limited action class.
type Kind string

const (
	KindPublish Kind = "publish"
	KindMessage Kind = "message"
	KindFollow  Kind = "follow"
	KindBump    Kind = "bump"
	KindAI      Kind = "ai_suggest"
)

// Guard charges daily per-owner counters kept in the shared KV store. The
// counter key embeds the UTC day, so windows roll over without any sweeper.
type Guard struct {
	store  kv.Store
	limits config.QuotaConfig

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// NewGuard builds a guard over the given store and configured limits.
func NewGuard(store kv.Store, limits config.QuotaConfig) *Guard {
	return &Guard{store: store, limits: limits, Now: time.Now}
}

func (g *Guard) limit(kind Kind) (int64, error) {
	switch kind {
	case KindPublish:
		return g.limits.PublishPerDay, nil
	case KindMessage:
		return g.limits.MessagePerDay, nil
	case KindFollow:
		return g.limits.FollowPerDay, nil
	case KindBump:
		return g.limits.BumpPerDay, nil
	case KindAI:
		return g.limits.AIPerDay, nil
	default:
		return 0, fmt.Errorf("unknown quota kind %q", kind)
	}
}

func (g *Guard) key(owner string, kind Kind) string {
	return fmt.Sprintf("quota:%s:%s:%s", owner, kind, g.Now().UTC().Format("20060102"))
}

// Consume charges n units against the owner's daily allowance for kind.
// When the charge would cross the ceiling it is rolled back and ErrExceeded
// is returned, so a denied action leaves the counter unchanged.
func (g *Guard) Consume(ctx context.Context, owner string, kind Kind, n int64) error {
	if n <= 0 {
		return fmt.Errorf("quota charge must be positive, got %d", n)
	}
	limit, err := g.limit(kind)
	if err != nil {
		return err
	}
	key := g.key(owner, kind)
	total, err := g.store.IncrBy(ctx, key, n)
	if err != nil {
		return fmt.Errorf("failed to charge quota counter: %w", err)
	}
	if total == n {
		// First charge of the day; expire the key well past the window so
		// late readers still see it, rollover is handled by the dated key.
		if err := g.store.Expire(ctx, key, 48*time.Hour); err != nil {
			log.Warn().Err(err).Str("kind", string(kind)).Msg("failed to set quota counter ttl")
		}
	}
	if total > limit {
		if _, err := g.store.IncrBy(ctx, key, -n); err != nil {
			log.Warn().Err(err).Str("kind", string(kind)).Msg("failed to roll back quota charge")
		}
		metrics.QuotaDenied(string(kind))
		log.Info().
			Str("kind", string(kind)).
			Int64("limit", limit).
			Msg("quota exceeded")
		return fmt.Errorf("%w: %s limit %d/day", ErrExceeded, kind, limit)
	}
	return nil
}

// Remaining reports how many units of kind the owner can still spend today.
func (g *Guard) Remaining(ctx context.Context, owner string, kind Kind) (int64, error) {
	limit, err := g.limit(kind)
	if err != nil {
		return 0, err
	}
	val, err := g.store.Get(ctx, g.key(owner, kind))
	if errors.Is(err, kv.ErrNotFound) {
		return limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quota counter: %w", err)
	}
	var used int64
	if _, err := fmt.Sscanf(val, "%d", &used); err != nil {
		return 0, fmt.Errorf("corrupt quota counter %q: %w", val, err)
	}
	if used >= limit {
		return 0, nil
	}
	return limit - used, nil
}
