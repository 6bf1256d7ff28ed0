package execution

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/route"
)

func TestSingleStepHappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	exec, err := h.orch.CreateExecution(ctx, testPlan(t, "plan-1", 1))
	if err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}
	assertInvariants(t, exec)
	if exec.State != StateRunning || exec.CurrentStepIndex != 0 {
		t.Fatalf("unexpected execution after create: %+v", exec)
	}
	if exec.Steps[0].State != StepAwaitingSignature || exec.Steps[0].UnsignedTx == nil {
		t.Fatalf("expected step 0 awaiting signature with a tx, got %+v", exec.Steps[0])
	}
	if exec.Steps[0].ProviderRef != "ref-1" {
		t.Fatalf("expected provider ref from build, got %q", exec.Steps[0].ProviderRef)
	}

	exec, err = h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepSubmitted, "0xabc")
	if err != nil {
		t.Fatalf("UpdateStepState failed: %v", err)
	}
	assertInvariants(t, exec)
	if exec.Steps[0].State != StepSubmitted || exec.Steps[0].TxHash != "0xabc" || exec.Steps[0].UnsignedTx != nil {
		t.Fatalf("unexpected step after submit: %+v", exec.Steps[0])
	}
	if _, _, submits := h.adapter.counts(); submits != 1 {
		t.Fatalf("expected one submit notification, got %d", submits)
	}

	h.adapter.setStatus("PENDING", "")
	exec, err = h.orch.PollExecutionStatus(ctx, exec.ID)
	if err != nil {
		t.Fatalf("PollExecutionStatus failed: %v", err)
	}
	assertInvariants(t, exec)
	if exec.Steps[0].State != StepConfirming || exec.State != StateRunning {
		t.Fatalf("expected confirming, got %+v", exec)
	}

	h.adapter.setStatus("DONE", "COMPLETED")
	exec, err = h.orch.PollExecutionStatus(ctx, exec.ID)
	if err != nil {
		t.Fatalf("PollExecutionStatus failed: %v", err)
	}
	assertInvariants(t, exec)
	if exec.Steps[0].State != StepConfirmed || exec.State != StateCompleted || exec.CurrentStepIndex != 0 {
		t.Fatalf("expected completed execution at index 0, got %+v", exec)
	}

	_, pollsBefore, _ := h.adapter.counts()
	again, err := h.orch.PollExecutionStatus(ctx, exec.ID)
	if err != nil || again.State != StateCompleted {
		t.Fatalf("expected completed execution to be stable, got %+v err=%v", again, err)
	}
	if _, pollsAfter, _ := h.adapter.counts(); pollsAfter != pollsBefore {
		t.Fatal("completed executions should not poll providers")
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exec, err := h.orch.CreateExecution(ctx, testPlan(t, "plan-1", 1))
	if err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}

	first, err := h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepSubmitted, "0xabc")
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	h.clock.Advance(time.Second)
	second, err := h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepSubmitted, "0xabc")
	if err != nil {
		t.Fatalf("second submit failed: %v", err)
	}
	if first.Steps[0].State != second.Steps[0].State || first.Steps[0].TxHash != second.Steps[0].TxHash {
		t.Fatalf("repeated submit changed state: %+v vs %+v", first.Steps[0], second.Steps[0])
	}
	if !first.UpdatedAt.Equal(second.UpdatedAt) {
		t.Fatal("repeated submit should not touch the execution")
	}
	if _, _, submits := h.adapter.counts(); submits != 1 {
		t.Fatalf("expected a single submit notification, got %d", submits)
	}

	h.adapter.setStatus("PENDING", "")
	if _, err := h.orch.PollExecutionStatus(ctx, exec.ID); err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	late, err := h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepSubmitted, "0xabc")
	if err != nil {
		t.Fatalf("late duplicate submit should be a no-op, got %v", err)
	}
	if late.Steps[0].State != StepConfirming {
		t.Fatalf("late duplicate submit moved the step back: %+v", late.Steps[0])
	}
}

func TestConflictingTxHashIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exec, _ := h.orch.CreateExecution(ctx, testPlan(t, "plan-1", 1))

	if _, err := h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepSubmitted, "0xaaa"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	_, err := h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepSubmitted, "0xbbb")
	requireCode(t, err, clierr.CodeStateConflict)

	got, err := h.orch.GetExecution(exec.ID)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if got.Steps[0].TxHash != "0xaaa" || got.Steps[0].State != StepSubmitted {
		t.Fatalf("conflicting report mutated state: %+v", got.Steps[0])
	}
}

func TestSingleStepFailurePath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exec, _ := h.orch.CreateExecution(ctx, testPlan(t, "plan-1", 1))
	if _, err := h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepSubmitted, "0xabc"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	h.adapter.setStatus("FAILED", "")
	exec, err := h.orch.PollExecutionStatus(ctx, exec.ID)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	assertInvariants(t, exec)
	if exec.Steps[0].State != StepFailed || exec.State != StateFailed {
		t.Fatalf("expected failed execution, got %+v", exec)
	}
	if exec.Steps[0].Error == nil || exec.Steps[0].Error.Code != ErrorExecutionFailed {
		t.Fatalf("expected populated step error, got %+v", exec.Steps[0].Error)
	}

	for _, state := range []StepState{StepSubmitted, StepConfirming, StepConfirmed, StepFailed} {
		_, err := h.orch.UpdateStepState(ctx, exec.ID, "step-1", state, "0xabc")
		requireCode(t, err, clierr.CodeStateConflict)
	}
}

func TestRefundedStatusFailsWithDistinctCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exec, _ := h.orch.CreateExecution(ctx, testPlan(t, "plan-1", 1))
	_, _ = h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepSubmitted, "0xabc")

	h.adapter.setStatus("DONE", "REFUNDED")
	exec, err := h.orch.PollExecutionStatus(ctx, exec.ID)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if exec.State != StateFailed || exec.Steps[0].Error == nil || exec.Steps[0].Error.Code != ErrorRefunded {
		t.Fatalf("expected refunded failure, got %+v", exec.Steps[0])
	}
}

func TestTwoStepPlanBuildsNextStepLazily(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	exec, err := h.orch.CreateExecution(ctx, testPlan(t, "plan-1", 2))
	if err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}
	assertInvariants(t, exec)
	if exec.Steps[1].State != StepPending || exec.Steps[1].UnsignedTx != nil {
		t.Fatalf("second step must not be built yet: %+v", exec.Steps[1])
	}
	if builds, _, _ := h.adapter.counts(); builds != 1 {
		t.Fatalf("expected one build, got %d", builds)
	}

	_, err = h.orch.UpdateStepState(ctx, exec.ID, "step-2", StepSubmitted, "0xdef")
	requireCode(t, err, clierr.CodeStateConflict)

	exec, err = h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepSubmitted, "0xabc")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if exec.Steps[1].UnsignedTx != nil {
		t.Fatal("second step built before the first confirmed")
	}

	h.adapter.setStatus("DONE", "")
	exec, err = h.orch.PollExecutionStatus(ctx, exec.ID)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	assertInvariants(t, exec)
	if exec.Steps[0].State != StepConfirmed || exec.CurrentStepIndex != 1 {
		t.Fatalf("expected advance to step 2, got %+v", exec)
	}
	if exec.Steps[1].State != StepAwaitingSignature || exec.Steps[1].UnsignedTx == nil {
		t.Fatalf("expected freshly built second step, got %+v", exec.Steps[1])
	}
	if exec.Steps[1].UnsignedTx.Data != "0x02" {
		t.Fatalf("expected a new build for step 2, got %+v", exec.Steps[1].UnsignedTx)
	}
	if exec.State != StateRunning {
		t.Fatalf("expected running execution, got %s", exec.State)
	}

	_, err = h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepSubmitted, "0xabc")
	requireCode(t, err, clierr.CodeStateConflict)

	h.adapter.setStatus("PENDING", "")
	if _, err := h.orch.UpdateStepState(ctx, exec.ID, "step-2", StepSubmitted, "0xdef"); err != nil {
		t.Fatalf("submit step 2 failed: %v", err)
	}
	h.adapter.setStatus("DONE", "")
	exec, err = h.orch.PollExecutionStatus(ctx, exec.ID)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if exec.State != StateCompleted || exec.CurrentStepIndex != 1 {
		t.Fatalf("expected completed execution, got %+v", exec)
	}
}

func TestCurrentIndexNeverDecreases(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exec, err := h.orch.CreateExecution(ctx, testPlan(t, "plan-1", 3))
	if err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}
	last := exec.CurrentStepIndex
	check := func(e Execution) {
		t.Helper()
		assertInvariants(t, e)
		if e.CurrentStepIndex < last {
			t.Fatalf("current index went from %d to %d", last, e.CurrentStepIndex)
		}
		last = e.CurrentStepIndex
	}
	hashes := []string{"0x01", "0x02", "0x03"}
	for i, hash := range hashes {
		stepID := exec.Steps[i].StepID
		e, err := h.orch.UpdateStepState(ctx, exec.ID, stepID, StepSubmitted, hash)
		if err != nil {
			t.Fatalf("submit %s failed: %v", stepID, err)
		}
		check(e)
		h.adapter.setStatus("waiting", "")
		e, _ = h.orch.PollExecutionStatus(ctx, exec.ID)
		check(e)
		h.adapter.setStatus("finished", "")
		e, err = h.orch.PollExecutionStatus(ctx, exec.ID)
		if err != nil {
			t.Fatalf("poll failed: %v", err)
		}
		check(e)
		exec = e
	}
	if exec.State != StateCompleted {
		t.Fatalf("expected completed, got %s", exec.State)
	}
}

func TestGetExecutionUnknownID(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.GetExecution("unknown-id")
	requireCode(t, err, clierr.CodeNotFound)
	typed, _ := clierr.As(err)
	if typed.ErrorCode() != ReasonExecutionNotFound {
		t.Fatalf("expected EXECUTION_NOT_FOUND, got %s", typed.ErrorCode())
	}

	_, err = h.orch.PollExecutionStatus(context.Background(), "unknown-id")
	requireCode(t, err, clierr.CodeNotFound)
}

func TestMissingExecutionID(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.PollExecutionStatus(context.Background(), "  ")
	requireCode(t, err, clierr.CodeUsage)
	typed, _ := clierr.As(err)
	if typed.ErrorCode() != ReasonMissingExecutionID {
		t.Fatalf("expected MISSING_EXECUTION_ID, got %s", typed.ErrorCode())
	}
}

func TestUpdateStepStateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exec, _ := h.orch.CreateExecution(ctx, testPlan(t, "plan-1", 1))

	_, err := h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepSubmitted, "")
	requireCode(t, err, clierr.CodeUsage)

	_, err = h.orch.UpdateStepState(ctx, exec.ID, "", StepSubmitted, "0xabc")
	requireCode(t, err, clierr.CodeUsage)

	_, err = h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepState("BOGUS"), "0xabc")
	requireCode(t, err, clierr.CodeUsage)

	_, err = h.orch.UpdateStepState(ctx, exec.ID, "step-9", StepSubmitted, "0xabc")
	requireCode(t, err, clierr.CodeStateConflict)

	_, err = h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepAwaitingSignature, "")
	requireCode(t, err, clierr.CodeStateConflict)

	_, err = h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepConfirmed, "0xabc")
	requireCode(t, err, clierr.CodeStateConflict)

	got, _ := h.orch.GetExecution(exec.ID)
	if got.Steps[0].State != StepAwaitingSignature || got.Steps[0].TxHash != "" {
		t.Fatalf("rejected reports mutated the step: %+v", got.Steps[0])
	}
}

func TestClientCanReportFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exec, _ := h.orch.CreateExecution(ctx, testPlan(t, "plan-1", 2))
	_, _ = h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepSubmitted, "0xabc")

	exec, err := h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepFailed, "")
	if err != nil {
		t.Fatalf("report failure failed: %v", err)
	}
	if exec.State != StateFailed || exec.Steps[0].Error == nil {
		t.Fatalf("expected failed execution, got %+v", exec)
	}
	if exec.Steps[1].State != StepPending {
		t.Fatal("a failed step must not skip ahead")
	}
}

func TestTransientPollFailureLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exec, _ := h.orch.CreateExecution(ctx, testPlan(t, "plan-1", 1))
	before, _ := h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepSubmitted, "0xabc")

	h.adapter.setStatusErr(clierr.New(clierr.CodeRateLimited, "slow down"))
	snap, err := h.orch.PollExecutionStatus(ctx, exec.ID)
	requireCode(t, err, clierr.CodeUnavailable)
	if snap.ID != exec.ID || snap.Steps[0].State != StepSubmitted {
		t.Fatalf("expected unchanged snapshot with the error, got %+v", snap)
	}
	if !snap.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatal("transient failure touched the execution")
	}
}

func TestPermanentPollErrorIsNotTransient(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exec, _ := h.orch.CreateExecution(ctx, testPlan(t, "plan-1", 1))
	if _, err := h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepSubmitted, "0xabc"); err != nil {
		t.Fatalf("UpdateStepState failed: %v", err)
	}

	h.adapter.setStatusErr(clierr.New(clierr.CodeUsage, "status requires a 32-byte transaction hash"))
	snap, err := h.orch.PollExecutionStatus(ctx, exec.ID)
	requireCode(t, err, clierr.CodeUsage)
	if snap.Steps[0].State != StepSubmitted {
		t.Fatalf("expected step to stay submitted, got %+v", snap.Steps[0])
	}
}

func TestBuildFailureKeepsExecutionCreated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.adapter.setBuildErr(clierr.New(clierr.CodeUnavailable, "provider down"))

	exec, err := h.orch.CreateExecution(ctx, testPlan(t, "plan-1", 1))
	requireCode(t, err, clierr.CodeUnavailable)
	if exec.ID == "" || exec.State != StateCreated || exec.Steps[0].State != StepPending {
		t.Fatalf("expected stored CREATED execution, got %+v", exec)
	}

	h.adapter.setBuildErr(nil)
	exec, err = h.orch.PollExecutionStatus(ctx, exec.ID)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if exec.Steps[0].State != StepAwaitingSignature || exec.State != StateRunning {
		t.Fatalf("expected retry build on poll, got %+v", exec)
	}
}

func TestNextStepBuildFailureKeepsConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exec, _ := h.orch.CreateExecution(ctx, testPlan(t, "plan-1", 2))
	_, _ = h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepSubmitted, "0xabc")

	h.adapter.setStatus("DONE", "")
	h.adapter.setBuildErr(clierr.New(clierr.CodeUnavailable, "provider down"))
	exec, err := h.orch.PollExecutionStatus(ctx, exec.ID)
	requireCode(t, err, clierr.CodeUnavailable)
	assertInvariants(t, exec)
	if exec.Steps[0].State != StepConfirmed || exec.CurrentStepIndex != 1 || exec.Steps[1].State != StepPending {
		t.Fatalf("expected confirmation to stick with step 2 pending, got %+v", exec)
	}

	h.adapter.setBuildErr(nil)
	exec, err = h.orch.PollExecutionStatus(ctx, exec.ID)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if exec.Steps[1].State != StepAwaitingSignature {
		t.Fatalf("expected step 2 built on retry, got %+v", exec.Steps[1])
	}
}

func TestPlanCanOnlyBeConsumedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	plan := testPlan(t, "plan-1", 1)
	if _, err := h.orch.CreateExecution(ctx, plan); err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}
	_, err := h.orch.CreateExecution(ctx, plan)
	requireCode(t, err, clierr.CodeStateConflict)
	if h.store.Len() != 1 {
		t.Fatalf("expected one stored execution, got %d", h.store.Len())
	}
}

func TestExpiredPlanIsRejected(t *testing.T) {
	h := newHarness(t)
	plan := testPlan(t, "plan-1", 1)
	plan.ExpiresAt = h.clock.Now().Add(-time.Minute).Format(time.RFC3339)
	_, err := h.orch.CreateExecution(context.Background(), plan)
	requireCode(t, err, clierr.CodeExpired)
}

func TestAdapterPanicIsRecovered(t *testing.T) {
	h := newHarness(t)
	h.adapter.buildPanic = true
	exec, err := h.orch.CreateExecution(context.Background(), testPlan(t, "plan-1", 1))
	requireCode(t, err, clierr.CodeInternal)
	if exec.State != StateCreated {
		t.Fatalf("expected execution kept in CREATED, got %s", exec.State)
	}
}

func TestInactiveExecutionExpiresOnAccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exec, _ := h.orch.CreateExecution(ctx, testPlan(t, "plan-1", 1))

	h.clock.Advance(DefaultInactivityTTL + time.Minute)
	_, err := h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepSubmitted, "0xabc")
	requireCode(t, err, clierr.CodeExpired)

	got, err := h.orch.GetExecution(exec.ID)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if got.State != StateExpired || got.ExpiredAt == nil {
		t.Fatalf("expected expired execution, got %+v", got)
	}
	_, err = h.orch.PollExecutionStatus(ctx, exec.ID)
	requireCode(t, err, clierr.CodeExpired)
}

func TestConcurrentSubmitAndPoll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exec, err := h.orch.CreateExecution(ctx, testPlan(t, "plan-1", 2))
	if err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}
	h.adapter.setStatus("pending", "")

	const workers = 32
	var wg sync.WaitGroup
	snaps := make(chan Execution, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var (
				snap Execution
				err  error
			)
			if i%2 == 0 {
				snap, err = h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepSubmitted, "0xabc")
			} else {
				snap, err = h.orch.PollExecutionStatus(ctx, exec.ID)
			}
			if err != nil {
				errs <- err
				return
			}
			snaps <- snap
		}(i)
	}
	wg.Wait()
	close(snaps)
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent operation failed: %v", err)
	}
	for snap := range snaps {
		assertInvariants(t, snap)
	}

	final, err := h.orch.PollExecutionStatus(ctx, exec.ID)
	if err != nil {
		t.Fatalf("final poll failed: %v", err)
	}
	if final.Steps[0].TxHash != "0xabc" || final.Steps[0].State != StepConfirming {
		t.Fatalf("unexpected final step: %+v", final.Steps[0])
	}
	if _, _, submits := h.adapter.counts(); submits != 1 {
		t.Fatalf("expected exactly one committed submit, got %d", submits)
	}
}

func TestConcurrentExecutionsAreIndependent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const executions = 16
	plans := make([]route.Plan, executions)
	for i := range plans {
		plans[i] = testPlan(t, fmt.Sprintf("plan-%d", i), 1)
	}
	var wg sync.WaitGroup
	errs := make(chan error, executions)
	for i := 0; i < executions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			exec, err := h.orch.CreateExecution(ctx, plans[i])
			if err != nil {
				errs <- err
				return
			}
			if _, err := h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepSubmitted, "0xabc"); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent execution failed: %v", err)
	}
	if h.store.Len() != executions {
		t.Fatalf("expected %d executions, got %d", executions, h.store.Len())
	}
}

func TestUpdateOtherStepIsStateConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exec, err := h.orch.CreateExecution(ctx, testPlan(t, "plan-1", 2))
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}

	for _, stepID := range []string{"step-2", "step-9"} {
		_, err := h.orch.UpdateStepState(ctx, exec.ID, stepID, StepSubmitted, "0xabc")
		requireCode(t, err, clierr.CodeStateConflict)
	}

	got, err := h.orch.GetExecution(exec.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if got.Steps[0].State != StepAwaitingSignature || got.Steps[0].TxHash != "" || got.Steps[1].State != StepPending {
		t.Fatalf("rejected updates must leave steps untouched: %+v", got.Steps)
	}
}

func TestSubmitNotificationRequiresCapability(t *testing.T) {
	h := newHarness(t)
	h.adapter.noSubmit = true
	ctx := context.Background()
	exec, err := h.orch.CreateExecution(ctx, testPlan(t, "plan-1", 1))
	if err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}
	exec, err = h.orch.UpdateStepState(ctx, exec.ID, "step-1", StepSubmitted, "0xabc")
	if err != nil {
		t.Fatalf("UpdateStepState failed: %v", err)
	}
	if exec.Steps[0].State != StepSubmitted {
		t.Fatalf("unexpected step after submit: %+v", exec.Steps[0])
	}
	if _, _, submits := h.adapter.counts(); submits != 0 {
		t.Fatalf("adapter without submit capability was notified %d times", submits)
	}
}
