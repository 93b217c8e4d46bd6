package exec

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/moonbot/gateway"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION AGENT CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// Speaks to the external order-execution agent over HTTP with signed intents.
// In dry-run mode every action is simulated with a DRY_ reference so the rest
// of the engine runs unchanged.
//
// ═══════════════════════════════════════════════════════════════════════════════

// AgentClient implements gateway.Agent against the execution agent service.
type AgentClient struct {
	baseURL    string
	privateKey *ecdsa.PrivateKey
	address    string
	dryRun     bool
	dryBalance decimal.Decimal
	httpClient *http.Client
}

// NewAgentClient builds a client. An empty key forces dry-run regardless of
// the flag: unsigned intents are never sent live.
func NewAgentClient(baseURL, privKeyHex string, dryRun bool) (*AgentClient, error) {
	c := &AgentClient{
		baseURL:    baseURL,
		dryRun:     dryRun,
		dryBalance: decimal.NewFromInt(100),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	if privKeyHex != "" {
		pk, err := crypto.HexToECDSA(privKeyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		c.privateKey = pk
		c.address = crypto.PubkeyToAddress(pk.PublicKey).Hex()
	} else {
		c.dryRun = true
	}

	mode := "LIVE"
	if c.dryRun {
		mode = "DRY RUN"
	}
	log.Info().
		Str("mode", mode).
		Str("address", c.address).
		Msg("🚀 Execution agent client initialized")

	return c, nil
}

// Submit sends one intent to the agent and reports what actually happened.
func (c *AgentClient) Submit(ctx context.Context, intent gateway.Intent) (gateway.AgentResult, error) {
	if c.dryRun {
		return c.simulate(intent), nil
	}

	payload := map[string]interface{}{
		"kind":     string(intent.Kind),
		"symbol":   intent.Symbol,
		"address":  intent.Address,
		"amount":   intent.Amount.String(),
		"quantity": intent.Quantity.String(),
		"slippage": intent.Slippage.String(),
		"dest":     intent.Dest,
		"nonce":    time.Now().UnixNano(),
	}

	sig, err := c.signPayload(payload)
	if err != nil {
		return gateway.AgentResult{}, fmt.Errorf("signing failed: %w", err)
	}
	payload["signature"] = sig
	payload["signer"] = c.address

	resp, err := c.post(ctx, "/submit", payload)
	if err != nil {
		return gateway.AgentResult{}, err
	}

	var result struct {
		Executed   bool            `json:"executed"`
		References []string        `json:"references"`
		Balance    string          `json:"balance"`
		Error      string          `json:"error"`
		Raw        json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return gateway.AgentResult{}, fmt.Errorf("parse agent response: %w", err)
	}
	if result.Error != "" {
		return gateway.AgentResult{}, fmt.Errorf("agent error: %s", result.Error)
	}

	value := decimal.Zero
	if result.Balance != "" {
		value, _ = decimal.NewFromString(result.Balance)
	}

	return gateway.AgentResult{
		Executed: result.Executed,
		Refs:     result.References,
		Value:    value,
		Raw:      result.Raw,
	}, nil
}

// simulate fakes an execution for dry-run mode, teacher-style DRY_ refs.
func (c *AgentClient) simulate(intent gateway.Intent) gateway.AgentResult {
	switch intent.Kind {
	case gateway.IntentBalance:
		return gateway.AgentResult{Executed: true, Value: c.dryBalance}
	case gateway.IntentTrending:
		return gateway.AgentResult{Executed: true}
	default:
		ref := fmt.Sprintf("DRY_%d", time.Now().UnixNano())
		log.Info().
			Str("ref", ref).
			Str("kind", string(intent.Kind)).
			Str("symbol", intent.Symbol).
			Msg("📝 DRY RUN: action would be submitted")
		return gateway.AgentResult{Executed: true, Refs: []string{ref}}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// AUTHORIZATION UTILITY
// ═══════════════════════════════════════════════════════════════════════════════

// EnsureSpendAuthorized makes sure the spender may move up to amount of the
// asset. Idempotent: an existing sufficient allowance is never re-approved.
func (c *AgentClient) EnsureSpendAuthorized(ctx context.Context, asset, spender string, amount decimal.Decimal) (bool, error) {
	if c.dryRun {
		return true, nil
	}
	if !common.IsHexAddress(spender) {
		return false, fmt.Errorf("invalid spender address %q", spender)
	}

	resp, err := c.get(ctx, fmt.Sprintf("/allowance?asset=%s&spender=%s", asset, spender))
	if err == nil {
		var cur struct {
			Allowance string `json:"allowance"`
		}
		if json.Unmarshal(resp, &cur) == nil {
			if allowance, aerr := decimal.NewFromString(cur.Allowance); aerr == nil &&
				allowance.GreaterThanOrEqual(amount) {
				return true, nil
			}
		}
	}

	payload := map[string]interface{}{
		"asset":   asset,
		"spender": spender,
		"amount":  amount.String(),
		"nonce":   time.Now().UnixNano(),
	}
	sig, err := c.signPayload(payload)
	if err != nil {
		return false, err
	}
	payload["signature"] = sig
	payload["signer"] = c.address

	resp, err = c.post(ctx, "/approve", payload)
	if err != nil {
		return false, err
	}

	var result struct {
		Authorized bool `json:"authorized"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return false, err
	}
	return result.Authorized, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP + SIGNING
// ═══════════════════════════════════════════════════════════════════════════════

func (c *AgentClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.doRequest(req)
}

func (c *AgentClient) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doRequest(req)
}

func (c *AgentClient) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
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

func (c *AgentClient) signPayload(payload map[string]interface{}) (string, error) {
	if c.privateKey == nil {
		return "", fmt.Errorf("private key not loaded")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	hash := crypto.Keccak256(raw)

	sig, err := crypto.Sign(hash, c.privateKey)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// IsDryRun reports whether the client simulates execution.
func (c *AgentClient) IsDryRun() bool {
	return c.dryRun
}
