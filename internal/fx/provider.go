package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fxwallet/wallet-engine/internal/model"
)

// DefaultProviderTimeout bounds the network call to the rate provider.
const DefaultProviderTimeout = 5 * time.Second

// Provider supplies the full rate table anchored at a base currency.
// Consumed as a black-box data source.
type Provider interface {
	RateTable(ctx context.Context, base model.Currency) (map[model.Currency]decimal.Decimal, error)
}

// HTTPProvider queries an external rate service over HTTP:
//
//	GET {baseURL}/latest/{CCY} → {"base":"NGN","rates":{"USD":0.00065,...}}
//
// Any network failure, timeout, or malformed payload surfaces as
// model.ErrProviderUnavailable so the resolver can fall back.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider creates a provider client with a bounded request timeout.
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type rateTableResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

func (p *HTTPProvider) RateTable(ctx context.Context, base model.Currency) (map[model.Currency]decimal.Decimal, error) {
	url := fmt.Sprintf("%s/latest/%s", p.baseURL, base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", model.ErrProviderUnavailable, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: provider returned status %d", model.ErrProviderUnavailable, resp.StatusCode)
	}

	var table rateTableResponse
	if err := json.NewDecoder(resp.Body).Decode(&table); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", model.ErrProviderUnavailable, err)
	}
	if len(table.Rates) == 0 {
		return nil, fmt.Errorf("%w: empty rate table for %s", model.ErrProviderUnavailable, base)
	}

	rates := make(map[model.Currency]decimal.Decimal, len(table.Rates))
	for code, rate := range table.Rates {
		rates[model.Currency(code)] = rate
	}
	return rates, nil
}
