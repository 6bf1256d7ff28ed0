package app

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/crossroute/internal/api"
	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/execution"
	"github.com/ggonzalez94/crossroute/internal/route"
)

type service struct {
	server  *api.Server
	store   *execution.Store
	sweeper *execution.Sweeper
}

func (s *runtimeState) newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the route planning and execution HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := s.buildService()
			if err != nil {
				return err
			}
			svc.sweeper.Start()
			defer func() { <-svc.sweeper.Stop().Done() }()

			if err := svc.server.Serve(ctx, s.settings.ListenAddr); err != nil {
				return clierr.Wrap(clierr.CodeInternal, "http server", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&s.flags.Listen, "listen", "", "Listen address (default :8080)")
	return cmd
}

func (s *runtimeState) buildService() (*service, error) {
	log := s.logger()
	reg, err := s.providerRegistry()
	if err != nil {
		return nil, err
	}
	book, err := s.openPlanBook()
	if err != nil {
		return nil, err
	}

	opts := execution.StoreOptions{
		InactivityTTL: s.settings.InactivityTTL,
		Retention:     s.settings.Retention,
		Logger:        log,
	}
	if s.settings.JournalEnabled {
		journal, err := s.openJournal()
		if err != nil {
			return nil, err
		}
		opts.Journal = journal
	}
	store := execution.NewStore(opts)
	restored, err := store.Restore()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "restore executions", err)
	}
	if restored > 0 {
		log.WithField("executions", restored).Info("restored executions from journal")
	}

	sweeper, err := execution.NewSweeper(store, s.settings.SweepSpec, log)
	if err != nil {
		return nil, err
	}
	orch := execution.NewOrchestrator(store, reg, execution.NewStatusPoller(s.settings.StatusTimeout), log).
		WithBuildTimeout(s.settings.BuildTimeout)

	server := api.New(api.Options{
		Planner:      route.NewPlanner(reg, log).WithQuoteTimeout(s.settings.QuoteTimeout),
		Plans:        book,
		Orchestrator: orch,
		Providers:    reg,
		Logger:       log,
		RateLimit:    s.settings.RateLimit,
		RateBurst:    s.settings.RateBurst,
	})
	return &service{server: server, store: store, sweeper: sweeper}, nil
}
