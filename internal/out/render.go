package out

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/ggonzalez94/crossroute/internal/config"
	"github.com/ggonzalez94/crossroute/internal/execution"
	"github.com/ggonzalez94/crossroute/internal/model"
	"github.com/ggonzalez94/crossroute/internal/route"
)

// Render writes env in the configured mode. JSON prints the envelope (or only
// its data with results-only); plain prints plans and executions as step
// tables and everything else as key=value rows.
func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = project(data, settings.SelectFields)
	}

	if settings.OutputMode == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if settings.ResultsOnly {
			return enc.Encode(data)
		}
		env.Data = data
		return enc.Encode(env)
	}

	if settings.ResultsOnly {
		return renderData(w, data)
	}
	if env.Error != nil {
		if _, err := fmt.Fprintf(w, "error %s (exit %d): %s\n", env.Error.Type, env.Error.Code, env.Error.Message); err != nil {
			return err
		}
	} else if err := renderData(w, data); err != nil {
		return err
	}
	for _, warning := range env.Warnings {
		if _, err := fmt.Fprintf(w, "warning: %s\n", warning); err != nil {
			return err
		}
	}
	return nil
}

func renderData(w io.Writer, data any) error {
	switch t := data.(type) {
	case route.Plan:
		return renderPlan(w, t)
	case execution.Execution:
		return renderExecution(w, t)
	}
	return renderRows(w, data)
}

func renderPlan(w io.Writer, plan route.Plan) error {
	header := fmt.Sprintf("plan %s: %s -> %s", plan.ID, legText(plan.From), legText(plan.To))
	if plan.ExpiresAt != "" {
		header += " (expires " + plan.ExpiresAt + ")"
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tKIND\tPROVIDER\tFROM\tTO\tWALLET")
	for _, step := range plan.Steps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", step.StepID, step.Kind, step.Provider, legText(step.From), legText(step.To), step.RequiresWallet)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, a := range plan.Requires.Approvals {
		if _, err := fmt.Fprintf(w, "approve %s of %s to %s on %s before %s\n", a.Amount, a.Token, a.Spender, a.ChainID, a.StepID); err != nil {
			return err
		}
	}
	return nil
}

func renderExecution(w io.Writer, exec execution.Execution) error {
	header := fmt.Sprintf("execution %s (plan %s): %s", exec.ID, exec.PlanID, exec.State)
	if n := len(exec.Steps); n > 0 {
		header += fmt.Sprintf(", step %d of %d", exec.CurrentStepIndex+1, n)
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tSTEP\tKIND\tPROVIDER\tSTATE\tTX\tERROR")
	for i, step := range exec.Steps {
		marker := ""
		if i == exec.CurrentStepIndex && !exec.State.Final() {
			marker = ">"
		}
		kind, provider := "", ""
		if i < len(exec.Plan.Steps) {
			kind, provider = string(exec.Plan.Steps[i].Kind), exec.Plan.Steps[i].Provider
		}
		errText := ""
		if step.Error != nil {
			errText = step.Error.Code + ": " + step.Error.Message
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", marker, step.StepID, kind, provider, step.State, orDash(step.TxHash), errText)
	}
	return tw.Flush()
}

func legText(leg model.Leg) string {
	amount := leg.Amount.AmountDecimal
	if amount == "" {
		amount = leg.Amount.AmountBaseUnits
	}
	symbol := leg.Symbol
	if symbol == "" {
		symbol = leg.AssetID
	}
	return strings.TrimSpace(fmt.Sprintf("%s %s@%s", amount, symbol, leg.Network))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// renderRows prints one key=value line per element, or a single line for
// non-list data.
func renderRows(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		line, err := toLine(normalizeValue(data))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, line)
		return err
	}
	if v.Len() == 0 {
		_, err := fmt.Fprintln(w, "[]")
		return err
	}
	for i := 0; i < v.Len(); i++ {
		line, err := toLine(normalizeValue(v.Index(i).Interface()))
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func project(data any, fields []string) any {
	switch t := normalizeValue(data).(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, projectMap(m, fields))
			}
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return t
	}
}

func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := m[f]; ok {
			out[f] = v
		}
	}
	return out
}

// normalizeValue round-trips v through JSON so struct values render with
// their wire names.
func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(v any) (string, error) {
	m, ok := v.(map[string]any)
	if !ok {
		buf, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " "), nil
}
