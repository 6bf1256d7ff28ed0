package execution

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/id"
	"github.com/ggonzalez94/crossroute/internal/model"
	"github.com/ggonzalez94/crossroute/internal/providers"
	"github.com/ggonzalez94/crossroute/internal/route"
)

const testWallet = "0x00000000000000000000000000000000000000AA"

type fakeAdapter struct {
	name string

	mu         sync.Mutex
	builds     int
	buildErr   error
	buildPanic bool
	status     model.RawStatus
	statusErr  error
	polls      int
	submits    []string
	noSubmit   bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{name: "fake", status: model.RawStatus{Provider: "fake", Status: "PENDING"}}
}

func (f *fakeAdapter) Info() model.ProviderInfo {
	caps := []string{providers.CapabilityQuote, providers.CapabilityBuild, providers.CapabilityStatus}
	if !f.noSubmit {
		caps = append(caps, providers.CapabilitySubmit)
	}
	return model.ProviderInfo{Name: f.name, Capabilities: caps}
}

func (f *fakeAdapter) GetQuote(context.Context, providers.QuoteRequest) (model.StepQuote, error) {
	return model.StepQuote{}, nil
}

func (f *fakeAdapter) BuildTransaction(_ context.Context, req providers.BuildRequest) (model.UnsignedTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildPanic {
		panic("adapter exploded")
	}
	if f.buildErr != nil {
		return model.UnsignedTx{}, f.buildErr
	}
	f.builds++
	return model.UnsignedTx{
		Family:      string(req.FromChain.Family()),
		ChainID:     req.FromChain.CAIP2,
		Format:      model.TxFormatEVMCall,
		From:        req.Sender,
		To:          "0x0000000000000000000000000000000000000DDD",
		Data:        fmt.Sprintf("0x%02x", f.builds),
		ProviderRef: fmt.Sprintf("ref-%d", f.builds),
	}, nil
}

func (f *fakeAdapter) GetStatus(context.Context, providers.StatusRequest) (model.RawStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.statusErr != nil {
		return model.RawStatus{}, f.statusErr
	}
	return f.status, nil
}

func (f *fakeAdapter) Submit(_ context.Context, req providers.SubmitRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, req.TxHash)
	return nil
}

func (f *fakeAdapter) setStatus(status, substatus string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = model.RawStatus{Provider: f.name, Status: status, Substatus: substatus}
	f.statusErr = nil
}

func (f *fakeAdapter) setStatusErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusErr = err
}

func (f *fakeAdapter) setBuildErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buildErr = err
}

func (f *fakeAdapter) counts() (builds, polls, submits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds, f.polls, len(f.submits)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	orch    *Orchestrator
	store   *Store
	adapter *fakeAdapter
	clock   *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithJournal(t, nil)
}

func newHarnessWithJournal(t *testing.T, journal *Journal) *harness {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	adapter := newFakeAdapter()
	store := NewStore(StoreOptions{Journal: journal})
	store.now = clock.Now
	orch := NewOrchestrator(store, providers.NewRegistry(adapter), NewStatusPoller(time.Second), nil)
	orch.now = clock.Now
	var mu sync.Mutex
	seq := 0
	orch.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("exe-%d", seq)
	}
	return &harness{orch: orch, store: store, adapter: adapter, clock: clock}
}

func testLeg(t *testing.T, network, symbol, amount string) model.Leg {
	t.Helper()
	chain, err := id.ParseChain(network)
	if err != nil {
		t.Fatalf("parse chain: %v", err)
	}
	asset, ok := id.KnownAsset(chain, symbol)
	if !ok {
		t.Fatalf("unknown asset %s on %s", symbol, network)
	}
	return model.Leg{
		Network: chain.Slug,
		ChainID: chain.CAIP2,
		Family:  string(chain.Family()),
		AssetID: asset.AssetID,
		Token:   asset.Address,
		Symbol:  asset.Symbol,
		Amount:  model.AmountInfo{AmountBaseUnits: amount, Decimals: asset.Decimals},
	}
}

// testPlan bridges USDC ethereum -> base -> arbitrum, one hop per step.
func testPlan(t *testing.T, planID string, steps int) route.Plan {
	t.Helper()
	networks := []string{"ethereum", "base", "arbitrum", "optimism"}
	plan := route.Plan{
		ID:      planID,
		From:    testLeg(t, networks[0], "USDC", "1000000"),
		To:      testLeg(t, networks[steps], "USDC", "1000000"),
		Wallets: map[string]string{"evm": testWallet},
	}
	for i := 0; i < steps; i++ {
		plan.Steps = append(plan.Steps, route.Step{
			StepID:         fmt.Sprintf("step-%d", i+1),
			Kind:           model.StepKindBridge,
			Family:         "evm",
			Provider:       "fake",
			From:           testLeg(t, networks[i], "USDC", "1000000"),
			To:             testLeg(t, networks[i+1], "USDC", "1000000"),
			RequiresWallet: "evm",
			Quote:          model.StepQuote{Provider: "fake", ToAmount: "1000000"},
		})
	}
	return plan
}

func assertInvariants(t *testing.T, exec Execution) {
	t.Helper()
	active := 0
	for i, s := range exec.Steps {
		if s.State.Active() {
			active++
		}
		if i < exec.CurrentStepIndex && s.State != StepConfirmed {
			t.Fatalf("step %d before current index is %s", i, s.State)
		}
		if i > exec.CurrentStepIndex && s.State != StepPending {
			t.Fatalf("step %d after current index is %s", i, s.State)
		}
		if s.UnsignedTx != nil && s.State != StepAwaitingSignature {
			t.Fatalf("step %d carries an unsigned tx in state %s", i, s.State)
		}
		if s.Error != nil && s.State != StepFailed {
			t.Fatalf("step %d carries an error in state %s", i, s.State)
		}
	}
	if active > 1 {
		t.Fatalf("expected at most one active step, got %d", active)
	}
}

func requireCode(t *testing.T, err error, code clierr.Code) {
	t.Helper()
	if !clierr.IsCode(err, code) {
		t.Fatalf("expected %s, got %v", code.Type(), err)
	}
}
