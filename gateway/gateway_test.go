package gateway

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// stubAgent counts submissions and answers from a script.
type stubAgent struct {
	mu      sync.Mutex
	calls   int
	result  AgentResult
	err     error
	balance decimal.Decimal
}

func (a *stubAgent) Submit(_ context.Context, intent Intent) (AgentResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return AgentResult{}, a.err
	}
	if intent.Kind == IntentBalance {
		return AgentResult{Executed: true, Value: a.balance}, nil
	}
	return a.result, nil
}

func (a *stubAgent) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// testClock gives the gateway a controllable time source.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestGateway(agent Agent, budget int) (*Gateway, *testClock) {
	g := New(agent, budget, 45*time.Second, 30*time.Second)
	clock := newTestClock()
	g.now = clock.now
	return g, clock
}

func buyIntent(sym string) Intent {
	return Intent{Kind: IntentBuy, Symbol: sym, Address: "0x" + sym, Amount: decimal.NewFromInt(10)}
}

func TestBudgetExhaustion(t *testing.T) {
	agent := &stubAgent{result: AgentResult{Executed: true, Refs: []string{"ref"}}}
	g, _ := newTestGateway(agent, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out := g.Invoke(ctx, buyIntent(fmt.Sprintf("T%d", i)))
		if out.Code != OutcomeExecuted {
			t.Fatalf("call %d: code = %s, want executed", i, out.Code)
		}
	}

	out := g.Invoke(ctx, buyIntent("OVER"))
	if out.Code != OutcomeRateLimited {
		t.Fatalf("call over budget: code = %s, want rate_limited", out.Code)
	}
	if agent.callCount() != 3 {
		t.Errorf("agent calls = %d, the over-budget call must never reach it", agent.callCount())
	}
}

func TestBudgetWindowSlides(t *testing.T) {
	agent := &stubAgent{result: AgentResult{Executed: true, Refs: []string{"ref"}}}
	g, clock := newTestGateway(agent, 2)
	ctx := context.Background()

	g.Invoke(ctx, buyIntent("A"))
	g.Invoke(ctx, buyIntent("B"))
	if out := g.Invoke(ctx, buyIntent("C")); out.Code != OutcomeRateLimited {
		t.Fatalf("code = %s, want rate_limited at the cap", out.Code)
	}

	clock.advance(61 * time.Second)
	if out := g.Invoke(ctx, buyIntent("D")); out.Code != OutcomeExecuted {
		t.Fatalf("code = %s, budget must recover after the window slides", out.Code)
	}
	if g.BudgetRemaining() != 1 {
		t.Errorf("BudgetRemaining = %d, want 1", g.BudgetRemaining())
	}
}

func TestReadCacheHitConsumesNoBudget(t *testing.T) {
	agent := &stubAgent{balance: decimal.NewFromInt(250)}
	g, clock := newTestGateway(agent, 5)
	ctx := context.Background()

	v1, out1 := g.Balance(ctx)
	if !out1.OK() || out1.Cached {
		t.Fatalf("first read: %+v, want fresh executed", out1)
	}

	clock.advance(10 * time.Second)
	v2, out2 := g.Balance(ctx)
	if !out2.Cached {
		t.Fatal("second read within TTL must be served from cache")
	}
	if !v1.Equal(v2) {
		t.Errorf("cached value %s differs from original %s", v2, v1)
	}
	if agent.callCount() != 1 {
		t.Errorf("agent calls = %d, want 1", agent.callCount())
	}
	if g.BudgetRemaining() != 4 {
		t.Errorf("BudgetRemaining = %d, cache hit must not consume budget", g.BudgetRemaining())
	}
}

func TestReadCacheExpires(t *testing.T) {
	agent := &stubAgent{balance: decimal.NewFromInt(250)}
	g, clock := newTestGateway(agent, 5)
	ctx := context.Background()

	g.Balance(ctx)
	clock.advance(46 * time.Second)
	_, out := g.Balance(ctx)
	if out.Cached {
		t.Fatal("read past TTL must refresh")
	}
	if agent.callCount() != 2 {
		t.Errorf("agent calls = %d, want 2", agent.callCount())
	}
}

func TestEntryGapDefersSecondOpen(t *testing.T) {
	agent := &stubAgent{result: AgentResult{Executed: true, Refs: []string{"ref"}}}
	g, clock := newTestGateway(agent, 10)
	ctx := context.Background()

	if out := g.OpenPosition(ctx, buyIntent("A")); out.Code != OutcomeExecuted {
		t.Fatalf("first open: %s", out.Code)
	}

	clock.advance(10 * time.Second)
	out := g.OpenPosition(ctx, buyIntent("B"))
	if out.Code != OutcomeDeferred {
		t.Fatalf("open inside the gap: code = %s, want deferred", out.Code)
	}

	clock.advance(25 * time.Second)
	if out := g.OpenPosition(ctx, buyIntent("C")); out.Code != OutcomeExecuted {
		t.Fatalf("open after the gap: code = %s, want executed", out.Code)
	}
}

func TestFailedOpenDoesNotConsumeGap(t *testing.T) {
	agent := &stubAgent{err: fmt.Errorf("connection refused")}
	g, clock := newTestGateway(agent, 10)
	ctx := context.Background()

	if out := g.OpenPosition(ctx, buyIntent("A")); out.Code != OutcomeFailed {
		t.Fatalf("first open: code = %s, want failed", out.Code)
	}

	agent.mu.Lock()
	agent.err = nil
	agent.result = AgentResult{Executed: true, Refs: []string{"ref"}}
	agent.mu.Unlock()

	clock.advance(time.Second)
	out := g.OpenPosition(ctx, buyIntent("B"))
	if out.Code != OutcomeExecuted {
		t.Fatalf("retry: code = %s, a failed open must not pace the entry gap", out.Code)
	}
}

func TestExecutedOpenInvalidatesBalanceCache(t *testing.T) {
	agent := &stubAgent{
		balance: decimal.NewFromInt(100),
		result:  AgentResult{Executed: true, Refs: []string{"ref"}},
	}
	g, _ := newTestGateway(agent, 10)
	ctx := context.Background()

	g.Balance(ctx)
	if _, out := g.Balance(ctx); !out.Cached {
		t.Fatal("balance read within TTL should be cached")
	}

	if out := g.OpenPosition(ctx, buyIntent("A")); out.Code != OutcomeExecuted {
		t.Fatalf("open: code = %s", out.Code)
	}

	agent.mu.Lock()
	agent.balance = decimal.NewFromInt(90)
	agent.mu.Unlock()

	balance, out := g.Balance(ctx)
	if out.Cached {
		t.Fatal("executed open must drop the cached balance")
	}
	if !balance.Equal(decimal.NewFromInt(90)) {
		t.Errorf("balance = %s, want the post-entry 90", balance)
	}
}

// A slow agent holds the entry lock; concurrent opens must defer, not queue.
func TestEntryMutexSingleFlight(t *testing.T) {
	release := make(chan struct{})
	agent := &blockingAgent{entered: make(chan struct{}), release: release}
	g, _ := newTestGateway(agent, 10)
	ctx := context.Background()

	done := make(chan Outcome, 1)
	go func() {
		done <- g.OpenPosition(ctx, buyIntent("SLOW"))
	}()

	<-agent.entered
	out := g.OpenPosition(ctx, buyIntent("FAST"))
	if out.Code != OutcomeDeferred {
		t.Fatalf("concurrent open: code = %s, want deferred", out.Code)
	}

	close(release)
	if first := <-done; first.Code != OutcomeExecuted {
		t.Fatalf("first open: code = %s, want executed", first.Code)
	}
}

type blockingAgent struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (a *blockingAgent) Submit(_ context.Context, _ Intent) (AgentResult, error) {
	a.once.Do(func() { close(a.entered) })
	<-a.release
	return AgentResult{Executed: true, Refs: []string{"ref"}}, nil
}

func TestExecutedWithoutRefsDowngradesToPaper(t *testing.T) {
	agent := &stubAgent{result: AgentResult{Executed: true}} // no refs
	g, _ := newTestGateway(agent, 5)

	out := g.Invoke(context.Background(), buyIntent("GHOST"))
	if out.Code != OutcomePaper {
		t.Fatalf("code = %s, unproven execution must downgrade to paper", out.Code)
	}
}

func TestNotExecutedIsPaper(t *testing.T) {
	agent := &stubAgent{result: AgentResult{Executed: false}}
	g, _ := newTestGateway(agent, 5)

	out := g.Invoke(context.Background(), buyIntent("NOPE"))
	if out.Code != OutcomePaper {
		t.Fatalf("code = %s, want paper", out.Code)
	}
}

func TestAgentErrorIsFailed(t *testing.T) {
	agent := &stubAgent{err: fmt.Errorf("connection refused")}
	g, _ := newTestGateway(agent, 5)

	out := g.Invoke(context.Background(), buyIntent("ERR"))
	if out.Code != OutcomeFailed {
		t.Fatalf("code = %s, want failed", out.Code)
	}
	if out.Reason == "" {
		t.Error("failed outcome must carry the agent error")
	}
}
