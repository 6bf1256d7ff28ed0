package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/id"
	"github.com/ggonzalez94/crossroute/internal/logging"
	"github.com/ggonzalez94/crossroute/internal/metrics"
	"github.com/ggonzalez94/crossroute/internal/model"
	"github.com/ggonzalez94/crossroute/internal/providers"
	"github.com/ggonzalez94/crossroute/internal/route"
)

const (
	DefaultBuildTimeout = 10 * time.Second

	ReasonMissingExecutionID = "MISSING_EXECUTION_ID"
)

// Orchestrator drives executions through the step state machine. Every
// mutation goes through Store.Update, so calls for one execution never
// interleave.
type Orchestrator struct {
	store        *Store
	providers    *providers.Registry
	poller       *StatusPoller
	log          logrus.FieldLogger
	buildTimeout time.Duration
	now          func() time.Time
	newID        func() string
}

func NewOrchestrator(store *Store, reg *providers.Registry, poller *StatusPoller, log logrus.FieldLogger) *Orchestrator {
	if poller == nil {
		poller = NewStatusPoller(DefaultStatusTimeout)
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Orchestrator{
		store:        store,
		providers:    reg,
		poller:       poller,
		log:          log,
		buildTimeout: DefaultBuildTimeout,
		now:          time.Now,
		newID:        NewExecutionID,
	}
}

func (o *Orchestrator) WithBuildTimeout(d time.Duration) *Orchestrator {
	if d > 0 {
		o.buildTimeout = d
	}
	return o
}

// CreateExecution starts a plan and builds the first step. When that build
// fails the execution is kept in CREATED and the next poll retries it.
func (o *Orchestrator) CreateExecution(ctx context.Context, plan route.Plan) (Execution, error) {
	if strings.TrimSpace(plan.ID) == "" {
		return Execution{}, clierr.New(clierr.CodeUsage, "plan id is required")
	}
	if len(plan.Steps) == 0 {
		return Execution{}, clierr.New(clierr.CodeUsage, "plan has no steps")
	}
	now := o.now().UTC()
	if exp, err := time.Parse(time.RFC3339, plan.ExpiresAt); err == nil && now.After(exp) {
		return Execution{}, clierr.New(clierr.CodeExpired, fmt.Sprintf("plan %s quotes expired at %s", plan.ID, plan.ExpiresAt))
	}

	exec := newExecution(o.newID(), plan, now)
	if err := o.store.Create(exec); err != nil {
		return Execution{}, err
	}
	o.log.WithFields(logrus.Fields{
		logging.FieldExecutionID: exec.ID,
		logging.FieldPlanID:      plan.ID,
		"steps":                  len(plan.Steps),
	}).Info("execution created")

	return o.store.Update(exec.ID, func(e *Execution) (bool, error) {
		return o.buildCurrent(ctx, e)
	})
}

// UpdateStepState applies a client report to the active step.
func (o *Orchestrator) UpdateStepState(ctx context.Context, executionID, stepID string, reported StepState, txHash string) (Execution, error) {
	executionID = strings.TrimSpace(executionID)
	stepID = strings.TrimSpace(stepID)
	txHash = strings.TrimSpace(txHash)
	if executionID == "" {
		return Execution{}, missingExecutionID()
	}
	if stepID == "" {
		return Execution{}, clierr.New(clierr.CodeUsage, "stepId is required")
	}
	if _, ok := transitions[reported]; !ok {
		return Execution{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown step state: %s", reported))
	}
	if reported == StepSubmitted && txHash == "" {
		return Execution{}, clierr.New(clierr.CodeUsage, "txHash is required when reporting SUBMITTED")
	}

	submitted := false
	snap, err := o.store.Update(executionID, func(e *Execution) (bool, error) {
		idx := stepIndex(e.Steps, stepID)
		if idx != e.CurrentStepIndex {
			return false, clierr.New(clierr.CodeStateConflict, fmt.Sprintf("step %s is not the active step", stepID))
		}
		step := &e.Steps[idx]
		if step.State.Terminal() {
			return false, clierr.New(clierr.CodeStateConflict, fmt.Sprintf("step %s is already %s", stepID, step.State))
		}
		if step.TxHash != "" && txHash != "" && txHash != step.TxHash {
			return false, clierr.New(clierr.CodeStateConflict, fmt.Sprintf("step %s was already submitted with a different transaction hash", stepID))
		}
		if step.TxHash != "" && (reported == step.State || (reported == StepSubmitted && step.State == StepConfirming)) {
			return false, nil
		}
		if reported == StepPending || reported == StepAwaitingSignature {
			return false, clierr.New(clierr.CodeStateConflict, fmt.Sprintf("%s cannot be reported by clients", reported))
		}
		if err := o.transition(e, idx, reported); err != nil {
			return false, err
		}
		if txHash != "" {
			step.TxHash = txHash
		}
		switch reported {
		case StepSubmitted:
			submitted = true
		case StepFailed:
			step.Error = &StepError{Code: ErrorExecutionFailed, Message: "client reported the transaction as failed"}
		case StepConfirmed:
			return true, o.advance(ctx, e)
		}
		return true, nil
	})
	if submitted {
		o.notifySubmit(ctx, snap, stepID)
	}
	return snap, err
}

// PollExecutionStatus refreshes the active step and returns the snapshot. A
// failed status call leaves the execution untouched and returns
// UPSTREAM_UNAVAILABLE alongside the snapshot.
func (o *Orchestrator) PollExecutionStatus(ctx context.Context, executionID string) (Execution, error) {
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return Execution{}, missingExecutionID()
	}
	return o.store.Update(executionID, func(e *Execution) (bool, error) {
		if e.State.Final() {
			return false, nil
		}
		switch e.Steps[e.CurrentStepIndex].State {
		case StepPending:
			return o.buildCurrent(ctx, e)
		case StepSubmitted, StepConfirming:
			return o.refresh(ctx, e)
		}
		return false, nil
	})
}

func (o *Orchestrator) GetExecution(executionID string) (Execution, error) {
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return Execution{}, missingExecutionID()
	}
	return o.store.Get(executionID)
}

func (o *Orchestrator) buildCurrent(ctx context.Context, e *Execution) (bool, error) {
	idx := e.CurrentStepIndex
	step := &e.Steps[idx]
	if step.State != StepPending {
		return false, nil
	}
	planStep := e.Plan.Steps[idx]
	log := o.stepLogger(e, planStep)

	adapter, err := o.providers.Get(planStep.Provider)
	if err != nil {
		return false, err
	}
	req, err := planStep.QuoteRequest(e.Plan.Wallets)
	if err != nil {
		return false, err
	}
	tx, err := o.build(ctx, adapter, providers.BuildRequest{QuoteRequest: req, Quote: planStep.Quote})
	if err != nil {
		log.WithError(err).Warn("build step transaction failed")
		return false, err
	}
	if err := o.transition(e, idx, StepAwaitingSignature); err != nil {
		return false, err
	}
	step.UnsignedTx = &tx
	step.ProviderRef = tx.ProviderRef
	log.Info("step awaiting signature")
	return true, nil
}

func (o *Orchestrator) refresh(ctx context.Context, e *Execution) (bool, error) {
	idx := e.CurrentStepIndex
	step := &e.Steps[idx]
	planStep := e.Plan.Steps[idx]
	log := o.stepLogger(e, planStep)

	adapter, err := o.providers.Get(planStep.Provider)
	if err != nil {
		return false, err
	}
	fromChain, err := id.ParseChain(planStep.From.ChainID)
	if err != nil {
		return false, err
	}
	toChain, err := id.ParseChain(planStep.To.ChainID)
	if err != nil {
		return false, err
	}
	status, err := o.poller.Poll(ctx, adapter, providers.StatusRequest{
		FromChain:   fromChain,
		ToChain:     toChain,
		TxHash:      step.TxHash,
		ProviderRef: step.ProviderRef,
		Quote:       planStep.Quote,
	})
	if err != nil {
		log.WithError(err).Warn("status poll failed")
		return false, err
	}

	changed := false
	if status.DestinationTxHash != "" && status.DestinationTxHash != step.DestinationTxHash {
		step.DestinationTxHash = status.DestinationTxHash
		changed = true
	}
	switch status.State {
	case StepConfirming:
		if step.State == StepSubmitted {
			if err := o.transition(e, idx, StepConfirming); err != nil {
				return changed, err
			}
			changed = true
		}
	case StepConfirmed:
		if step.State == StepSubmitted {
			if err := o.transition(e, idx, StepConfirming); err != nil {
				return changed, err
			}
		}
		if err := o.transition(e, idx, StepConfirmed); err != nil {
			return true, err
		}
		log.Info("step confirmed")
		return true, o.advance(ctx, e)
	case StepFailed:
		if err := o.transition(e, idx, StepFailed); err != nil {
			return changed, err
		}
		step.Error = &StepError{Code: status.ErrorCode, Message: status.Message}
		log.WithField("error_code", status.ErrorCode).Warn("step failed")
		return true, nil
	}
	return changed, nil
}

// advance moves past a confirmed step and builds the next one. A build error
// is returned but the confirmation and index move still stand.
func (o *Orchestrator) advance(ctx context.Context, e *Execution) error {
	if e.CurrentStepIndex+1 >= len(e.Steps) {
		e.fold()
		o.log.WithField(logging.FieldExecutionID, e.ID).Info("execution completed")
		return nil
	}
	e.CurrentStepIndex++
	_, err := o.buildCurrent(ctx, e)
	return err
}

func (o *Orchestrator) transition(e *Execution, idx int, to StepState) error {
	step := &e.Steps[idx]
	from := step.State
	if !CanTransition(from, to) {
		return clierr.New(clierr.CodeStateConflict, fmt.Sprintf("step %s cannot move from %s to %s", step.StepID, from, to))
	}
	now := o.now().UTC()
	step.State = to
	step.UpdatedAt = now
	if to != StepAwaitingSignature {
		step.UnsignedTx = nil
	}
	e.UpdatedAt = now
	e.fold()
	metrics.RecordStepTransition(string(from), string(to))
	return nil
}

func (o *Orchestrator) build(ctx context.Context, adapter providers.Adapter, req providers.BuildRequest) (tx model.UnsignedTx, err error) {
	ctx, cancel := context.WithTimeout(ctx, o.buildTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = clierr.New(clierr.CodeInternal, fmt.Sprintf("provider %s panicked while building: %v", adapter.Info().Name, r))
		}
	}()
	return adapter.BuildTransaction(ctx, req)
}

// notifySubmit tells the provider about a broadcast transaction. Failures are
// logged only; the status poll does not depend on it.
func (o *Orchestrator) notifySubmit(ctx context.Context, exec Execution, stepID string) {
	idx := exec.Plan.StepByID(stepID)
	if idx < 0 || idx >= len(exec.Steps) {
		return
	}
	planStep := exec.Plan.Steps[idx]
	log := o.stepLogger(&exec, planStep)
	adapter, err := o.providers.Get(planStep.Provider)
	if err != nil || !providers.Declares(adapter, providers.CapabilitySubmit) {
		return
	}
	chain, err := id.ParseChain(planStep.From.ChainID)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, o.poller.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("provider submit panicked: %v", r)
		}
	}()
	err = adapter.Submit(ctx, providers.SubmitRequest{
		Chain:       chain,
		TxHash:      exec.Steps[idx].TxHash,
		ProviderRef: exec.Steps[idx].ProviderRef,
	})
	if err != nil {
		log.WithError(err).Warn("provider submit notification failed")
	}
}

func (o *Orchestrator) stepLogger(e *Execution, step route.Step) logrus.FieldLogger {
	return o.log.WithFields(logrus.Fields{
		logging.FieldExecutionID: e.ID,
		logging.FieldStepID:      step.StepID,
		logging.FieldProvider:    step.Provider,
	})
}

func stepIndex(steps []Step, stepID string) int {
	for i, s := range steps {
		if s.StepID == stepID {
			return i
		}
	}
	return -1
}

func missingExecutionID() error {
	return clierr.New(clierr.CodeUsage, "executionId is required").WithReason(ReasonMissingExecutionID)
}
