package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/moonbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DEX MARKET DATA FEED
// ═══════════════════════════════════════════════════════════════════════════════
//
// Read-only HTTP client for token prices, discovery and trending lists against
// a dexscreener-style API. Cacheable by callers; performs no metered calls.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Quote is a point-in-time price snapshot for one token.
type Quote struct {
	Price     decimal.Decimal
	Volume24h decimal.Decimal
	Liquidity decimal.Decimal
	Change5m  decimal.Decimal
	Change1h  decimal.Decimal
	Change24h decimal.Decimal
}

// DexFeed fetches market data over HTTP.
type DexFeed struct {
	baseURL    string
	httpClient *http.Client
}

// NewDexFeed creates a feed against the given API base URL.
func NewDexFeed(baseURL string) *DexFeed {
	return &DexFeed{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// pairPayload mirrors the relevant slice of the API's pair objects.
type pairPayload struct {
	BaseToken struct {
		Symbol  string `json:"symbol"`
		Address string `json:"address"`
	} `json:"baseToken"`
	PriceUsd    string `json:"priceUsd"`
	PriceChange struct {
		M5  json.Number `json:"m5"`
		H1  json.Number `json:"h1"`
		H24 json.Number `json:"h24"`
	} `json:"priceChange"`
	Volume struct {
		H24 json.Number `json:"h24"`
	} `json:"volume"`
	Liquidity struct {
		Usd json.Number `json:"usd"`
	} `json:"liquidity"`
	Labels []string `json:"labels"`
}

// PriceOf returns the current quote for a token address.
func (f *DexFeed) PriceOf(ctx context.Context, address string) (Quote, error) {
	body, err := f.get(ctx, "/latest/dex/tokens/"+url.PathEscape(address))
	if err != nil {
		return Quote{}, err
	}

	var payload struct {
		Pairs []pairPayload `json:"pairs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Quote{}, fmt.Errorf("parse price response: %w", err)
	}
	if len(payload.Pairs) == 0 {
		return Quote{}, fmt.Errorf("no pairs for %s", address)
	}

	c := pairToCandidate(&payload.Pairs[0])
	return Quote{
		Price:     c.Price,
		Volume24h: c.Volume24h,
		Liquidity: c.Liquidity,
		Change5m:  c.Change5m,
		Change1h:  c.Change1h,
		Change24h: c.Change24h,
	}, nil
}

// Discover returns fresh candidates matching the given filter tags.
func (f *DexFeed) Discover(ctx context.Context, tags []string) ([]*types.Candidate, error) {
	q := ""
	if len(tags) > 0 {
		q = "?tags=" + url.QueryEscape(strings.Join(tags, ","))
	}
	return f.fetchCandidates(ctx, "/latest/dex/search"+q, "discover")
}

// Trending returns the current trending list.
func (f *DexFeed) Trending(ctx context.Context) ([]*types.Candidate, error) {
	return f.fetchCandidates(ctx, "/latest/dex/trending", "trending")
}

func (f *DexFeed) fetchCandidates(ctx context.Context, path, sourceTag string) ([]*types.Candidate, error) {
	body, err := f.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Pairs []pairPayload `json:"pairs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse candidates: %w", err)
	}

	out := make([]*types.Candidate, 0, len(payload.Pairs))
	for i := range payload.Pairs {
		c := pairToCandidate(&payload.Pairs[i])
		// Malformed candidates are skipped for this cycle, never fatal.
		if c.Symbol == "" || c.Address == "" || c.Price.IsZero() {
			continue
		}
		c.Sources = append(c.Sources, sourceTag)
		out = append(out, c)
	}
	return out, nil
}

func pairToCandidate(p *pairPayload) *types.Candidate {
	pct := func(n json.Number) decimal.Decimal {
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero
		}
		return d.Div(decimal.NewFromInt(100)) // API reports percent, we use fractions
	}
	num := func(n json.Number) decimal.Decimal {
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	}

	price, _ := decimal.NewFromString(p.PriceUsd)

	tier := ""
	if len(p.Labels) > 0 {
		tier = p.Labels[0]
	}

	return &types.Candidate{
		Symbol:    p.BaseToken.Symbol,
		Address:   p.BaseToken.Address,
		Price:     price,
		Change5m:  pct(p.PriceChange.M5),
		Change1h:  pct(p.PriceChange.H1),
		Change24h: pct(p.PriceChange.H24),
		Volume24h: num(p.Volume.H24),
		Liquidity: num(p.Liquidity.Usd),
		Tier:      tier,
	}
}

func (f *DexFeed) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
