package scorer

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/moonbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// QUALIFICATION SCORER - Ordered admission paths, first match wins
// ═══════════════════════════════════════════════════════════════════════════════
//
// A hard safety floor rejects unconditionally. Past the floor, paths are tried
// in priority order and short-circuit: high-trust paths first, so a marginal
// late-path candidate never outranks a clearly-trusted one. Paths never vote
// or combine.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Params holds the scoring thresholds. All pure inputs; the scorer itself
// performs no I/O.
type Params struct {
	MinLiquidity   decimal.Decimal
	MaxDrawdown24h decimal.Decimal // fractional, 0.60 rejects 24h change ≤ -60%
	MinScore       decimal.Decimal
	TrustedTiers   []string

	StrongMomentumPct decimal.Decimal // path 4
	StrongMomentumVol decimal.Decimal
	SpikeVolMult      decimal.Decimal // path 5: volume ≥ mult × liquidity
	SpikeMinLiquidity decimal.Decimal
	ComboMomentumPct  decimal.Decimal // path 6
	ComboMinVolume    decimal.Decimal
	TrendMinLiquidity decimal.Decimal // path 7
}

// DefaultParams returns the stock thresholds.
func DefaultParams() Params {
	return Params{
		MinLiquidity:      decimal.NewFromInt(25000),
		MaxDrawdown24h:    decimal.NewFromFloat(0.60),
		MinScore:          decimal.NewFromInt(70),
		TrustedTiers:      []string{"bluechip", "ecosystem"},
		StrongMomentumPct: decimal.NewFromFloat(0.30),
		StrongMomentumVol: decimal.NewFromInt(100000),
		SpikeVolMult:      decimal.NewFromInt(3),
		SpikeMinLiquidity: decimal.NewFromInt(50000),
		ComboMomentumPct:  decimal.NewFromFloat(0.15),
		ComboMinVolume:    decimal.NewFromInt(250000),
		TrendMinLiquidity: decimal.NewFromInt(40000),
	}
}

// Result is the scorer's verdict. Path carries the admitting path's name;
// Reason explains either the admission or the most specific rejection.
type Result struct {
	Admit  bool
	Path   string
	Reason string
}

// path is one qualification rule. match returns (admitted, nearMiss): a
// non-empty nearMiss means the path was relevant but failed, and becomes the
// rejection reason if nothing later admits.
type path struct {
	name  string
	match func(c *types.Candidate, p Params) (bool, string)
}

// paths are evaluated strictly in this order.
var paths = []path{
	{"trusted_ecosystem", matchTrusted},
	{"catalyst", matchCatalyst},
	{"score", matchScore},
	{"strong_momentum", matchStrongMomentum},
	{"volume_spike", matchVolumeSpike},
	{"momentum_volume", matchMomentumVolume},
	{"trending_positive", matchTrendingPositive},
}

// Evaluate scores one candidate. Pure: no side effects, no I/O.
func Evaluate(c *types.Candidate, p Params) Result {
	// Hard safety floor - nothing overrides these.
	if c.Liquidity.LessThan(p.MinLiquidity) {
		return Result{Admit: false, Reason: fmt.Sprintf(
			"liquidity $%s below floor $%s", c.Liquidity.StringFixed(0), p.MinLiquidity.StringFixed(0))}
	}
	if c.Change24h.LessThanOrEqual(p.MaxDrawdown24h.Neg()) {
		return Result{Admit: false, Reason: fmt.Sprintf(
			"24h drawdown %s%% beyond limit", c.Change24h.Mul(decimal.NewFromInt(100)).StringFixed(1))}
	}

	rejection := ""
	for _, pt := range paths {
		ok, nearMiss := pt.match(c, p)
		if ok {
			return Result{Admit: true, Path: pt.name, Reason: pt.name}
		}
		if rejection == "" && nearMiss != "" {
			rejection = nearMiss
		}
	}

	if rejection == "" {
		rejection = "no qualification path matched"
	}
	return Result{Admit: false, Reason: rejection}
}

func matchTrusted(c *types.Candidate, p Params) (bool, string) {
	for _, tier := range p.TrustedTiers {
		if c.Tier == tier {
			return true, ""
		}
	}
	return false, ""
}

func matchCatalyst(c *types.Candidate, _ Params) (bool, string) {
	return c.HasCatalyst, ""
}

func matchScore(c *types.Candidate, p Params) (bool, string) {
	if c.Score.IsZero() {
		return false, ""
	}
	if c.Score.GreaterThanOrEqual(p.MinScore) {
		return true, ""
	}
	return false, fmt.Sprintf("score %s below threshold %s", c.Score.StringFixed(0), p.MinScore.StringFixed(0))
}

func matchStrongMomentum(c *types.Candidate, p Params) (bool, string) {
	if c.Change24h.GreaterThanOrEqual(p.StrongMomentumPct) {
		if c.Volume24h.GreaterThanOrEqual(p.StrongMomentumVol) {
			return true, ""
		}
		return false, fmt.Sprintf("momentum +%s%% but volume $%s too thin",
			c.Change24h.Mul(decimal.NewFromInt(100)).StringFixed(1), c.Volume24h.StringFixed(0))
	}
	return false, ""
}

func matchVolumeSpike(c *types.Candidate, p Params) (bool, string) {
	if c.Liquidity.LessThan(p.SpikeMinLiquidity) {
		return false, ""
	}
	if c.Volume24h.GreaterThanOrEqual(c.Liquidity.Mul(p.SpikeVolMult)) {
		return true, ""
	}
	return false, ""
}

func matchMomentumVolume(c *types.Candidate, p Params) (bool, string) {
	if c.Change24h.GreaterThanOrEqual(p.ComboMomentumPct) &&
		c.Volume24h.GreaterThanOrEqual(p.ComboMinVolume) {
		return true, ""
	}
	return false, ""
}

func matchTrendingPositive(c *types.Candidate, p Params) (bool, string) {
	if !c.HasSource("trending") {
		return false, ""
	}
	if c.Change24h.GreaterThan(decimal.Zero) && c.Liquidity.GreaterThanOrEqual(p.TrendMinLiquidity) {
		return true, ""
	}
	return false, "trending but flat or illiquid"
}
