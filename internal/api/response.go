package api

import (
	"encoding/json"
	"net/http"
	"time"

	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/execution"
	"github.com/ggonzalez94/crossroute/internal/model"
	"github.com/ggonzalez94/crossroute/internal/route"
)

// response is the envelope of every API reply. The execution snapshot, when
// present, is inlined at the top level.
type response struct {
	OK        bool   `json:"ok"`
	ErrorCode string `json:"errorCode,omitempty"`
	Message   string `json:"message,omitempty"`
	Transient bool   `json:"transient,omitempty"`
	*Snapshot
	Plan      *route.Plan          `json:"plan,omitempty"`
	Providers []model.ProviderInfo `json:"providers,omitempty"`
}

// Snapshot is the client view of an execution.
type Snapshot struct {
	ID               string      `json:"id"`
	PlanID           string      `json:"planId"`
	State            string      `json:"state"`
	CurrentStepIndex int         `json:"currentStepIndex"`
	ActiveStep       *ActiveStep `json:"activeStep"`
	Steps            []StepView  `json:"steps"`
	CreatedAt        string      `json:"createdAt"`
	UpdatedAt        string      `json:"updatedAt"`
}

type ActiveStep struct {
	StepID     string               `json:"stepId"`
	State      string               `json:"state"`
	TxHash     string               `json:"txHash,omitempty"`
	UnsignedTx *model.UnsignedTx    `json:"unsignedTx,omitempty"`
	Error      *execution.StepError `json:"error,omitempty"`
}

type StepView struct {
	StepID            string               `json:"stepId"`
	Kind              model.StepKind       `json:"kind"`
	Provider          string               `json:"provider"`
	State             string               `json:"state"`
	TxHash            string               `json:"txHash,omitempty"`
	DestinationTxHash string               `json:"destinationTxHash,omitempty"`
	Error             *execution.StepError `json:"error,omitempty"`
}

func newSnapshot(exec execution.Execution) *Snapshot {
	snap := &Snapshot{
		ID:               exec.ID,
		PlanID:           exec.PlanID,
		State:            string(exec.State),
		CurrentStepIndex: exec.CurrentStepIndex,
		Steps:            make([]StepView, 0, len(exec.Steps)),
		CreatedAt:        exec.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        exec.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for i, step := range exec.Steps {
		view := StepView{
			StepID:            step.StepID,
			State:             string(step.State),
			TxHash:            step.TxHash,
			DestinationTxHash: step.DestinationTxHash,
			Error:             step.Error,
		}
		if i < len(exec.Plan.Steps) {
			view.Kind = exec.Plan.Steps[i].Kind
			view.Provider = exec.Plan.Steps[i].Provider
		}
		snap.Steps = append(snap.Steps, view)
	}
	if active, ok := exec.ActiveStep(); ok && exec.State != execution.StateCompleted {
		snap.ActiveStep = &ActiveStep{
			StepID:     active.StepID,
			State:      string(active.State),
			TxHash:     active.TxHash,
			UnsignedTx: active.UnsignedTx,
			Error:      active.Error,
		}
	}
	return snap
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error, snap *Snapshot) {
	typed, ok := clierr.As(err)
	if !ok {
		typed = clierr.Wrap(clierr.CodeInternal, "internal error", err)
	}
	writeJSON(w, typed.Code.HTTPStatus(), response{
		OK:        false,
		ErrorCode: typed.ErrorCode(),
		Message:   typed.Error(),
		Transient: typed.Code == clierr.CodeUnavailable || typed.Code == clierr.CodeRateLimited,
		Snapshot:  snap,
	})
}

// writeExecution replies with a snapshot. A transient upstream failure that
// still produced a snapshot is reported as a 200 with ok=false so clients keep
// polling.
func writeExecution(w http.ResponseWriter, status int, exec execution.Execution, err error) {
	var snap *Snapshot
	if exec.ID != "" {
		snap = newSnapshot(exec)
	}
	if err == nil {
		writeJSON(w, status, response{OK: true, Snapshot: snap})
		return
	}
	if clierr.IsCode(err, clierr.CodeUnavailable) && snap != nil {
		typed, _ := clierr.As(err)
		writeJSON(w, http.StatusOK, response{
			OK:        false,
			ErrorCode: clierr.CodeUnavailable.Type(),
			Message:   typed.Error(),
			Transient: true,
			Snapshot:  snap,
		})
		return
	}
	writeError(w, err, snap)
}
