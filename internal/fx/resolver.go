package fx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fxwallet/wallet-engine/internal/metrics"
	"github.com/fxwallet/wallet-engine/internal/model"
)

// Rate source labels attached to resolved quotes.
const (
	SourceDirect   = "direct"
	SourceCache    = "cache"
	SourceProvider = "provider"
	SourceFallback = "fallback"
)

// DefaultStaleCeiling is the maximum age of a fallback rate still
// considered usable. Anything older is worthless.
const DefaultStaleCeiling = time.Hour

// HistoryStore is the slice of the persistence layer the resolver needs:
// the append-only record of provider-sourced rates, read back only as
// fallback data.
type HistoryStore interface {
	InsertRateHistory(ctx context.Context, entry *model.RateHistoryEntry) error
	LatestRateHistory(ctx context.Context, source, dest model.Currency) (*model.RateHistoryEntry, error)
}

// Broadcaster pushes freshly observed provider rates to subscribers.
type Broadcaster interface {
	BroadcastRate(quote model.RateQuote)
}

// Resolver obtains a currency-pair rate from a three-tier pipeline:
// hot cache → external provider → historical-record fallback. Each tier is
// attempted only if the previous one misses.
type Resolver struct {
	cache        Cache
	provider     Provider
	history      HistoryStore
	hub          Broadcaster // optional
	staleCeiling time.Duration

	now func() time.Time
}

// NewResolver creates a rate resolver. Pass nil for hub if rate
// broadcasting is not needed; staleCeiling <= 0 selects the default.
func NewResolver(cache Cache, provider Provider, history HistoryStore, hub Broadcaster, staleCeiling time.Duration) *Resolver {
	if staleCeiling <= 0 {
		staleCeiling = DefaultStaleCeiling
	}
	return &Resolver{
		cache:        cache,
		provider:     provider,
		history:      history,
		hub:          hub,
		staleCeiling: staleCeiling,
		now:          time.Now,
	}
}

// Resolve returns a quote for converting source into dest. Fails with
// model.ErrRateUnavailable only when every tier is exhausted.
func (r *Resolver) Resolve(ctx context.Context, source, dest model.Currency) (*model.RateQuote, error) {
	// Identity short-circuit: no cache or network involved.
	if source == dest {
		metrics.RateResolutions.WithLabelValues(SourceDirect).Inc()
		return &model.RateQuote{
			Source:     source,
			Dest:       dest,
			Rate:       decimal.New(1, 0),
			ObservedAt: r.now().UTC(),
			RateSource: SourceDirect,
			AgeSeconds: 0,
		}, nil
	}

	// Cache tier: hits are returned unmodified, including the freshness
	// metadata recorded when the entry was written.
	if quote, ok := r.cache.Get(ctx, source, dest); ok {
		metrics.RateResolutions.WithLabelValues(SourceCache).Inc()
		return quote, nil
	}

	// Provider tier.
	quote, err := r.resolveFromProvider(ctx, source, dest)
	if err == nil {
		metrics.RateResolutions.WithLabelValues(SourceProvider).Inc()
		return quote, nil
	}

	slog.Warn("rate provider unavailable, trying fallback",
		"source", source, "dest", dest, "err", err)

	// Fallback tier: the most recent provider observation, age-checked.
	return r.resolveFromHistory(ctx, source, dest)
}

func (r *Resolver) resolveFromProvider(ctx context.Context, source, dest model.Currency) (*model.RateQuote, error) {
	table, err := r.provider.RateTable(ctx, source)
	if err != nil {
		return nil, err
	}

	rate, ok := table[dest]
	if !ok {
		return nil, fmt.Errorf("%w: %s missing from %s rate table", model.ErrProviderUnavailable, dest, source)
	}

	now := r.now().UTC()
	quote := &model.RateQuote{
		Source:     source,
		Dest:       dest,
		Rate:       rate.RoundBank(RateScale),
		ObservedAt: now,
		RateSource: SourceProvider,
		AgeSeconds: 0,
	}

	r.cache.Put(ctx, quote)

	// History append is best-effort: losing an audit row must not fail the
	// resolution itself.
	entry := &model.RateHistoryEntry{
		ID:         uuid.New().String(),
		Source:     source,
		Dest:       dest,
		Rate:       quote.Rate,
		ObservedAt: now,
	}
	if err := r.history.InsertRateHistory(ctx, entry); err != nil {
		slog.Warn("failed to persist rate history entry",
			"source", source, "dest", dest, "err", err)
	}

	if r.hub != nil {
		r.hub.BroadcastRate(*quote)
	}

	return quote, nil
}

func (r *Resolver) resolveFromHistory(ctx context.Context, source, dest model.Currency) (*model.RateQuote, error) {
	entry, err := r.history.LatestRateHistory(ctx, source, dest)
	if err != nil {
		return nil, fmt.Errorf("%w: history lookup failed: %v", model.ErrRateUnavailable, err)
	}
	if entry == nil {
		return nil, model.ErrRateUnavailable
	}

	age := r.now().UTC().Sub(entry.ObservedAt)
	if age > r.staleCeiling {
		return nil, fmt.Errorf("%w: last known rate is %s old", model.ErrRateUnavailable, age.Truncate(time.Second))
	}

	ageSeconds := int64(age.Seconds())
	metrics.RateResolutions.WithLabelValues(SourceFallback).Inc()
	metrics.RateFallbackAge.Observe(age.Seconds())

	return &model.RateQuote{
		Source:     source,
		Dest:       dest,
		Rate:       entry.Rate,
		ObservedAt: entry.ObservedAt,
		RateSource: SourceFallback,
		AgeSeconds: ageSeconds,
		Warning: fmt.Sprintf("live rates unreachable; applied rate observed %ds ago",
			ageSeconds),
	}, nil
}
