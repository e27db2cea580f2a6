package fx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fxwallet/wallet-engine/internal/model"
	"github.com/fxwallet/wallet-engine/internal/store"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// fakeProvider serves a fixed rate table and counts calls.
type fakeProvider struct {
	table map[model.Currency]decimal.Decimal
	err   error
	calls int
}

func (p *fakeProvider) RateTable(_ context.Context, _ model.Currency) (map[model.Currency]decimal.Decimal, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.table, nil
}

func newTestResolver(provider Provider) (*Resolver, *store.MemoryStore) {
	history := store.NewMemoryStore()
	r := NewResolver(NewMemoryCache(time.Minute), provider, history, nil, time.Hour)
	return r, history
}

// --- Identity tier ---

func TestResolve_IdentityShortCircuit(t *testing.T) {
	provider := &fakeProvider{err: model.ErrProviderUnavailable}
	r, _ := newTestResolver(provider)

	quote, err := r.Resolve(context.Background(), model.USD, model.USD)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !quote.Rate.Equal(d(1)) {
		t.Errorf("expected rate 1, got %s", quote.Rate)
	}
	if quote.RateSource != SourceDirect {
		t.Errorf("expected source %q, got %q", SourceDirect, quote.RateSource)
	}
	if quote.AgeSeconds != 0 {
		t.Errorf("expected age 0, got %d", quote.AgeSeconds)
	}
	if provider.calls != 0 {
		t.Errorf("identity resolution must not touch the provider, got %d calls", provider.calls)
	}
}

// --- Cache tier ---

func TestResolve_CacheHitReturnedVerbatim(t *testing.T) {
	provider := &fakeProvider{table: map[model.Currency]decimal.Decimal{model.USD: d(0.9)}}
	r, _ := newTestResolver(provider)

	cached := &model.RateQuote{
		Source:     model.NGN,
		Dest:       model.USD,
		Rate:       d(0.000650),
		ObservedAt: time.Now().UTC().Add(-10 * time.Second),
		RateSource: SourceProvider,
		AgeSeconds: 0,
	}
	r.cache.Put(context.Background(), cached)

	quote, err := r.Resolve(context.Background(), model.NGN, model.USD)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !quote.Rate.Equal(cached.Rate) {
		t.Errorf("expected cached rate %s, got %s", cached.Rate, quote.Rate)
	}
	if quote.RateSource != SourceProvider {
		t.Errorf("cache hit must keep originally recorded metadata, got source %q", quote.RateSource)
	}
	if provider.calls != 0 {
		t.Errorf("cache hit must not touch the provider, got %d calls", provider.calls)
	}
}

func TestMemoryCache_ExpiredEntryMisses(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	base := time.Now().UTC()
	cache.now = func() time.Time { return base }

	cache.Put(context.Background(), &model.RateQuote{
		Source: model.NGN, Dest: model.USD, Rate: d(0.00065),
	})

	cache.now = func() time.Time { return base.Add(61 * time.Second) }
	if _, ok := cache.Get(context.Background(), model.NGN, model.USD); ok {
		t.Error("expected expired entry to miss")
	}
}

// --- Provider tier ---

func TestResolve_ProviderSuccess(t *testing.T) {
	provider := &fakeProvider{table: map[model.Currency]decimal.Decimal{
		model.USD: decimal.NewFromFloat(0.0006504321),
	}}
	r, history := newTestResolver(provider)

	quote, err := r.Resolve(context.Background(), model.NGN, model.USD)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.RateSource != SourceProvider {
		t.Errorf("expected source %q, got %q", SourceProvider, quote.RateSource)
	}
	// Rounded to 6 fractional digits.
	if !quote.Rate.Equal(d(0.000650)) {
		t.Errorf("expected rate 0.000650, got %s", quote.Rate)
	}
	if quote.AgeSeconds != 0 {
		t.Errorf("expected age 0, got %d", quote.AgeSeconds)
	}

	// The quote must now be cached: a second resolve skips the provider.
	if _, err := r.Resolve(context.Background(), model.NGN, model.USD); err != nil {
		t.Fatalf("unexpected error on cached resolve: %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", provider.calls)
	}

	// A history entry was appended for fallback use.
	entry, err := history.LatestRateHistory(context.Background(), model.NGN, model.USD)
	if err != nil {
		t.Fatalf("history lookup failed: %v", err)
	}
	if entry == nil {
		t.Fatal("expected a rate history entry after provider success")
	}
	if !entry.Rate.Equal(quote.Rate) {
		t.Errorf("history rate %s != quote rate %s", entry.Rate, quote.Rate)
	}
}

func TestResolve_ProviderMissingDestCurrency(t *testing.T) {
	// Table is anchored at NGN but has no USD entry: treated as a provider
	// failure, so resolution falls through to history (empty → unavailable).
	provider := &fakeProvider{table: map[model.Currency]decimal.Decimal{model.EUR: d(0.0006)}}
	r, _ := newTestResolver(provider)

	_, err := r.Resolve(context.Background(), model.NGN, model.USD)
	if !errors.Is(err, model.ErrRateUnavailable) {
		t.Fatalf("expected ErrRateUnavailable, got %v", err)
	}
}

// --- Fallback tier ---

func seedHistory(t *testing.T, history *store.MemoryStore, observedAt time.Time) {
	t.Helper()
	err := history.InsertRateHistory(context.Background(), &model.RateHistoryEntry{
		ID:         "hist-1",
		Source:     model.NGN,
		Dest:       model.USD,
		Rate:       d(0.000650),
		ObservedAt: observedAt,
	})
	if err != nil {
		t.Fatalf("failed to seed history: %v", err)
	}
}

func TestResolve_FallbackWithinCeiling(t *testing.T) {
	provider := &fakeProvider{err: errors.New("connection refused")}
	r, history := newTestResolver(provider)

	base := time.Now().UTC()
	seedHistory(t, history, base.Add(-3599*time.Second))
	r.now = func() time.Time { return base }

	quote, err := r.Resolve(context.Background(), model.NGN, model.USD)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.RateSource != SourceFallback {
		t.Errorf("expected source %q, got %q", SourceFallback, quote.RateSource)
	}
	if quote.AgeSeconds != 3599 {
		t.Errorf("expected age 3599, got %d", quote.AgeSeconds)
	}
	if quote.Warning == "" {
		t.Error("fallback quote must carry a non-empty warning")
	}
}

func TestResolve_FallbackPastCeiling(t *testing.T) {
	provider := &fakeProvider{err: errors.New("connection refused")}
	r, history := newTestResolver(provider)

	base := time.Now().UTC()
	seedHistory(t, history, base.Add(-3601*time.Second))
	r.now = func() time.Time { return base }

	_, err := r.Resolve(context.Background(), model.NGN, model.USD)
	if !errors.Is(err, model.ErrRateUnavailable) {
		t.Fatalf("expected ErrRateUnavailable for 3601s-old rate, got %v", err)
	}
}

func TestResolve_NoHistoryAtAll(t *testing.T) {
	provider := &fakeProvider{err: errors.New("connection refused")}
	r, _ := newTestResolver(provider)

	_, err := r.Resolve(context.Background(), model.NGN, model.USD)
	if !errors.Is(err, model.ErrRateUnavailable) {
		t.Fatalf("expected ErrRateUnavailable, got %v", err)
	}
}

// --- Conversion arithmetic ---

func TestConvert_Scenario(t *testing.T) {
	// 10000.00 NGN at 0.000650 → 6.50 USD.
	got := Convert(d(10000.00), d(0.000650))
	if !got.Equal(d(6.50)) {
		t.Errorf("expected 6.50, got %s", got)
	}
}

func TestConvert_BankersRounding(t *testing.T) {
	cases := []struct {
		amount, rate, want decimal.Decimal
	}{
		{d(12.5), d(0.01), d(0.12)},  // 0.125 rounds half-to-even down
		{d(13.5), d(0.01), d(0.14)},  // 0.135 rounds half-to-even up
		{d(100), d(1.5), d(150)},
		{d(0.01), d(0.5), d(0.00)},   // below minimum unit after rounding
	}
	for _, c := range cases {
		got := Convert(c.amount, c.rate)
		if !got.Equal(c.want) {
			t.Errorf("Convert(%s, %s) = %s, want %s", c.amount, c.rate, got, c.want)
		}
	}
}

// --- HTTP provider ---

func TestHTTPProvider_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/latest/NGN" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"base":"NGN","rates":{"USD":0.00065,"EUR":0.0006}}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second)
	table, err := p.RateTable(context.Background(), model.NGN)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !table[model.USD].Equal(d(0.00065)) {
		t.Errorf("expected USD rate 0.00065, got %s", table[model.USD])
	}
}

func TestHTTPProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second)
	_, err := p.RateTable(context.Background(), model.NGN)
	if !errors.Is(err, model.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestHTTPProvider_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, 10*time.Millisecond)
	_, err := p.RateTable(context.Background(), model.NGN)
	if !errors.Is(err, model.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable on timeout, got %v", err)
	}
}

func TestHTTPProvider_EmptyTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"base":"NGN","rates":{}}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second)
	_, err := p.RateTable(context.Background(), model.NGN)
	if !errors.Is(err, model.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable for empty table, got %v", err)
	}
}
