package schema

import (
	"testing"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/crossroute/internal/errors"
)

func testTree() *cobra.Command {
	root := &cobra.Command{Use: "crossroute"}
	root.PersistentFlags().Bool("json", false, "Output JSON")
	execs := &cobra.Command{Use: "executions", Short: "execution commands", Aliases: []string{"exec"}}
	show := &cobra.Command{Use: "show <id>", Short: "show one execution", Run: func(*cobra.Command, []string) {}}
	plan := &cobra.Command{Use: "plan", Short: "compute a route plan", Run: func(*cobra.Command, []string) {}}
	plan.Flags().String("from-network", "", "source network")
	plan.Flags().String("amount", "", "amount in base units")
	_ = plan.MarkFlagRequired("from-network")
	execs.AddCommand(show)
	root.AddCommand(execs, plan)
	return root
}

func TestBuildSchema(t *testing.T) {
	s, err := Build(testTree(), "plan")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s.Path != "crossroute plan" {
		t.Fatalf("unexpected path: %s", s.Path)
	}
	if len(s.Flags) != 2 || s.Flags[0].Name != "amount" || s.Flags[1].Name != "from-network" {
		t.Fatalf("unexpected flags: %+v", s.Flags)
	}
	if s.Flags[0].Required || !s.Flags[1].Required {
		t.Fatalf("unexpected required markers: %+v", s.Flags)
	}
	if len(s.GlobalFlags) != 1 || s.GlobalFlags[0].Name != "json" {
		t.Fatalf("unexpected global flags: %+v", s.GlobalFlags)
	}
}

func TestBuildSchemaResolvesAliases(t *testing.T) {
	s, err := Build(testTree(), "exec show")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s.Path != "crossroute executions show" {
		t.Fatalf("unexpected path: %s", s.Path)
	}
}

func TestBuildSchemaUnknownCommand(t *testing.T) {
	_, err := Build(testTree(), "lend markets")
	if !clierr.IsCode(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}
