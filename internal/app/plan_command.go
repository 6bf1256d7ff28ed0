package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/crossroute/internal/cache"
	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/route"
)

func (s *runtimeState) newPlanCommand() *cobra.Command {
	var (
		req  route.Request
		save bool
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute a route plan between two tokens on any supported networks",
		Example: `  crossroute plan --from-network ethereum --from-token DAI --to-network solana --to-token JUP \
    --amount-decimal 100 --wallet evm=0xYourAddress,solana=YourSolanaAddress`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(req.Amount) == "" && strings.TrimSpace(req.AmountDecimal) == "" {
				return clierr.New(clierr.CodeUsage, "one of --amount or --amount-decimal is required")
			}
			if strings.TrimSpace(req.ToToken) == "" {
				req.ToToken = req.FromToken
			}
			reg, err := s.providerRegistry()
			if err != nil {
				return err
			}
			planner := route.NewPlanner(reg, s.logger()).WithQuoteTimeout(s.settings.QuoteTimeout)
			plan, err := planner.ComputeRoutePlan(cmd.Context(), req)
			if err != nil {
				return err
			}
			if save {
				book, err := s.openPlanBook()
				if err != nil {
					return err
				}
				if err := book.Put(plan, 0); err != nil {
					return clierr.Wrap(clierr.CodeInternal, "store plan", err)
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), plan, planWarnings(plan))
		},
	}
	cmd.Flags().StringVar(&req.FromNetwork, "from-network", "", "Source network (name, chain id or CAIP-2)")
	cmd.Flags().StringVar(&req.ToNetwork, "to-network", "", "Destination network (name, chain id or CAIP-2)")
	cmd.Flags().StringVar(&req.FromToken, "from-token", "", "Source token symbol, address or CAIP-19 id")
	cmd.Flags().StringVar(&req.ToToken, "to-token", "", "Destination token (defaults to --from-token)")
	cmd.Flags().StringVar(&req.Amount, "amount", "", "Amount in source token base units")
	cmd.Flags().StringVar(&req.AmountDecimal, "amount-decimal", "", "Amount in source token decimal units")
	cmd.Flags().StringToStringVar(&req.WalletAddresses, "wallet", nil, "Wallet address per family, e.g. evm=0x...,solana=...")
	cmd.Flags().BoolVar(&save, "save", false, "Store the plan so an execution can be created from its id")
	_ = cmd.MarkFlagRequired("from-network")
	_ = cmd.MarkFlagRequired("to-network")
	_ = cmd.MarkFlagRequired("from-token")
	return cmd
}

func (s *runtimeState) openPlanBook() (*cache.PlanBook, error) {
	book, err := cache.OpenPlanBook(s.settings.PlanBookPath, s.settings.PlanBookLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open plan book", err)
	}
	s.onClose(book.Close)
	return book, nil
}

func planWarnings(plan route.Plan) []string {
	var warnings []string
	for _, approval := range plan.Requires.Approvals {
		warnings = append(warnings, fmt.Sprintf("%s needs an allowance of %s for spender %s on %s before signing", approval.StepID, approval.Amount, approval.Spender, approval.ChainID))
	}
	return warnings
}
