package execution

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/model"
	"github.com/ggonzalez94/crossroute/internal/route"
)

type State string

type StepState string

const (
	StateCreated   State = "CREATED"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateExpired   State = "EXPIRED"
)

const (
	StepPending           StepState = "PENDING"
	StepAwaitingSignature StepState = "AWAITING_SIGNATURE"
	StepSubmitted         StepState = "SUBMITTED"
	StepConfirming        StepState = "CONFIRMING"
	StepConfirmed         StepState = "CONFIRMED"
	StepFailed            StepState = "FAILED"
)

// Step error codes surfaced to clients.
const (
	ErrorExecutionFailed = "EXECUTION_FAILED"
	ErrorRefunded        = "REFUNDED"
)

// transitions is the complete step state machine. Anything not listed here is
// rejected with STATE_CONFLICT.
var transitions = map[StepState][]StepState{
	StepPending:           {StepAwaitingSignature},
	StepAwaitingSignature: {StepSubmitted},
	StepSubmitted:         {StepConfirming, StepFailed},
	StepConfirming:        {StepConfirmed, StepFailed},
	StepConfirmed:         nil,
	StepFailed:            nil,
}

func CanTransition(from, to StepState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func ParseStepState(input string) (StepState, error) {
	state := StepState(strings.ToUpper(strings.TrimSpace(input)))
	if _, ok := transitions[state]; !ok {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown step state: %s", input))
	}
	return state, nil
}

func (s StepState) Terminal() bool {
	return s == StepConfirmed || s == StepFailed
}

// Active reports whether the step is waiting on the client or the chain.
func (s StepState) Active() bool {
	return s == StepAwaitingSignature || s == StepSubmitted || s == StepConfirming
}

func (s State) Final() bool {
	return s == StateCompleted || s == StateFailed || s == StateExpired
}

type StepError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Step struct {
	StepID            string            `json:"stepId"`
	State             StepState         `json:"state"`
	UnsignedTx        *model.UnsignedTx `json:"unsignedTx,omitempty"`
	TxHash            string            `json:"txHash,omitempty"`
	Error             *StepError        `json:"error,omitempty"`
	ProviderRef       string            `json:"providerRef,omitempty"`
	DestinationTxHash string            `json:"destinationTxHash,omitempty"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

type Execution struct {
	ID               string     `json:"id"`
	PlanID           string     `json:"planId"`
	State            State      `json:"state"`
	CurrentStepIndex int        `json:"currentStepIndex"`
	Steps            []Step     `json:"steps"`
	Plan             route.Plan `json:"plan"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	ExpiredAt        *time.Time `json:"expiredAt,omitempty"`
}

func NewExecutionID() string {
	return "exe_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newExecution(executionID string, plan route.Plan, now time.Time) Execution {
	steps := make([]Step, len(plan.Steps))
	for i, s := range plan.Steps {
		steps[i] = Step{StepID: s.StepID, State: StepPending, UpdatedAt: now}
	}
	exec := Execution{
		ID:        executionID,
		PlanID:    plan.ID,
		Steps:     steps,
		Plan:      plan,
		CreatedAt: now,
		UpdatedAt: now,
	}
	exec.fold()
	return exec
}

// fold derives the execution state from its steps and the sweep's expiry mark.
func (e *Execution) fold() {
	allConfirmed := len(e.Steps) > 0
	anyFailed := false
	anyStarted := false
	for _, s := range e.Steps {
		if s.State != StepConfirmed {
			allConfirmed = false
		}
		if s.State == StepFailed {
			anyFailed = true
		}
		if s.State != StepPending {
			anyStarted = true
		}
	}
	switch {
	case anyFailed:
		e.State = StateFailed
	case allConfirmed:
		e.State = StateCompleted
	case e.ExpiredAt != nil:
		e.State = StateExpired
	case anyStarted:
		e.State = StateRunning
	default:
		e.State = StateCreated
	}
}

// ActiveStep returns the step at the current index.
func (e Execution) ActiveStep() (Step, bool) {
	if e.CurrentStepIndex < 0 || e.CurrentStepIndex >= len(e.Steps) {
		return Step{}, false
	}
	return e.Steps[e.CurrentStepIndex], true
}

func (e Execution) clone() Execution {
	out := e
	out.Steps = make([]Step, len(e.Steps))
	for i, s := range e.Steps {
		if s.UnsignedTx != nil {
			tx := *s.UnsignedTx
			s.UnsignedTx = &tx
		}
		if s.Error != nil {
			stepErr := *s.Error
			s.Error = &stepErr
		}
		out.Steps[i] = s
	}
	if e.ExpiredAt != nil {
		t := *e.ExpiredAt
		out.ExpiredAt = &t
	}
	return out
}
