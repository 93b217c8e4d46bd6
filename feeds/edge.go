package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/moonbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EDGE FEED - Secondary prediction-market scanner
// ═══════════════════════════════════════════════════════════════════════════════
//
// Read-only view of a prediction-style venue (gamma API shape). Consumed only
// by the edge scanning loop; the engine never trades here.
//
// ═══════════════════════════════════════════════════════════════════════════════

// EdgeFeed fetches active prediction markets.
type EdgeFeed struct {
	baseURL    string
	httpClient *http.Client
}

// NewEdgeFeed creates a feed against the given API base URL.
func NewEdgeFeed(baseURL string) *EdgeFeed {
	return &EdgeFeed{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// ActiveMarkets returns currently open markets with implied probabilities.
func (f *EdgeFeed) ActiveMarkets(ctx context.Context) ([]*types.EdgeMarket, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.baseURL+"/markets?active=true&closed=false&limit=50", nil)
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

	var payload []struct {
		ID            string   `json:"id"`
		Question      string   `json:"question"`
		Outcomes      []string `json:"outcomes"`
		OutcomePrices []string `json:"outcomePrices"`
		Volume24hr    string   `json:"volume24hr"`
		Liquidity     string   `json:"liquidity"`
		EndDate       string   `json:"endDate"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse markets: %w", err)
	}

	out := make([]*types.EdgeMarket, 0, len(payload))
	for _, m := range payload {
		if len(m.Outcomes) == 0 || len(m.OutcomePrices) == 0 {
			continue
		}
		prob, err := decimal.NewFromString(m.OutcomePrices[0])
		if err != nil {
			continue
		}
		vol, _ := decimal.NewFromString(m.Volume24hr)
		liq, _ := decimal.NewFromString(m.Liquidity)
		resolves, _ := time.Parse(time.RFC3339, m.EndDate)

		out = append(out, &types.EdgeMarket{
			ID:          m.ID,
			Question:    m.Question,
			Outcome:     m.Outcomes[0],
			ImpliedProb: prob,
			Volume24h:   vol,
			Liquidity:   liq,
			ResolvesAt:  resolves,
		})
	}
	return out, nil
}
