package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/execution"
)

// executionSummary is the list view of a journaled execution.
type executionSummary struct {
	ID               string `json:"id"`
	PlanID           string `json:"planId"`
	State            string `json:"state"`
	CurrentStepIndex int    `json:"currentStepIndex"`
	Steps            int    `json:"steps"`
	Route            string `json:"route"`
	UpdatedAt        string `json:"updatedAt"`
}

func (s *runtimeState) newExecutionsCommand() *cobra.Command {
	root := &cobra.Command{Use: "executions", Aliases: []string{"exec"}, Short: "Inspect journaled executions"}

	var (
		state string
		limit int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent executions from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if state != "" && !knownState(state) {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown execution state: %s", state))
			}
			journal, err := s.openJournal()
			if err != nil {
				return err
			}
			execs, err := journal.List(state, limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list executions", err)
			}
			out := make([]executionSummary, 0, len(execs))
			for _, exec := range execs {
				out = append(out, summarize(exec))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), out, nil)
		},
	}
	list.Flags().StringVar(&state, "state", "", "Filter by state (CREATED, RUNNING, COMPLETED, FAILED, EXPIRED)")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum executions to return")

	show := &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show one execution with its plan and step states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := s.openJournal()
			if err != nil {
				return err
			}
			exec, err := journal.Get(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), exec, nil)
		},
	}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Expire idle executions and purge old ones from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := s.openJournal()
			if err != nil {
				return err
			}
			store := execution.NewStore(execution.StoreOptions{
				InactivityTTL: s.settings.InactivityTTL,
				Retention:     s.settings.Retention,
				Journal:       journal,
				Logger:        s.logger(),
			})
			if _, err := store.Restore(); err != nil {
				return clierr.Wrap(clierr.CodeInternal, "restore executions", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), store.Sweep(), nil)
		},
	}

	root.AddCommand(list, show, sweep)
	return root
}

func (s *runtimeState) openJournal() (*execution.Journal, error) {
	if !s.settings.JournalEnabled {
		return nil, clierr.New(clierr.CodeUnsupported, "execution journal is disabled")
	}
	journal, err := execution.OpenJournal(s.settings.JournalPath, s.settings.JournalLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open execution journal", err)
	}
	s.onClose(journal.Close)
	return journal, nil
}

func summarize(exec execution.Execution) executionSummary {
	route := ""
	if exec.Plan.From.Network != "" {
		route = fmt.Sprintf("%s %s -> %s %s", exec.Plan.From.Symbol, exec.Plan.From.Network, exec.Plan.To.Symbol, exec.Plan.To.Network)
	}
	return executionSummary{
		ID:               exec.ID,
		PlanID:           exec.PlanID,
		State:            string(exec.State),
		CurrentStepIndex: exec.CurrentStepIndex,
		Steps:            len(exec.Steps),
		Route:            route,
		UpdatedAt:        exec.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func knownState(state string) bool {
	switch execution.State(strings.ToUpper(strings.TrimSpace(state))) {
	case execution.StateCreated, execution.StateRunning, execution.StateCompleted, execution.StateFailed, execution.StateExpired:
		return true
	}
	return false
}
