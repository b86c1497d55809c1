package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sterilization-gateway/internal/alerts"
	"sterilization-gateway/internal/events"
	"sterilization-gateway/internal/export"
	"sterilization-gateway/internal/models"
)

var (
	loginUser     string
	loginPassword string

	materialSearch string

	alertStatus   string
	alertSeverity string
	alertCycle    string

	reconcileApply bool

	exportOut       string
	exportReconcile bool
)

// =============================================================================
// LOGIN
// =============================================================================

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange credentials for a bearer token",
	Long: `Prints the token; export it as BACKEND_TOKEN for later commands.

Example:
  export BACKEND_TOKEN=$(sterictl login --user ana --password secret)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginUser == "" || loginPassword == "" {
			return errors.New("--user and --password are required")
		}
		s, err := client.Login(cmd.Context(), loginUser, loginPassword)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd, s)
		}
		fmt.Fprintln(cmd.OutOrStdout(), s.Token)
		return nil
	},
}

// =============================================================================
// MATERIALS
// =============================================================================

var materialsCmd = &cobra.Command{
	Use:   "materials",
	Short: "List and inspect materials",
}

var materialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List materials",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := client.ListMaterials(cmd.Context(), models.MaterialQuery{Search: materialSearch})
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd, list)
		}
		rows := make([][]string, 0, len(list))
		for _, m := range list {
			rows = append(rows, []string{m.ID, m.Code, m.Name, yesNo(m.Active), fmt.Sprint(m.ReprocessCount)})
		}
		return printTable(cmd, []string{"ID", "CODE", "NAME", "ACTIVE", "REPROCESSED"}, rows)
	},
}

var materialsGetCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show one material",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := client.GetMaterial(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, m)
	},
}

// =============================================================================
// ALERTS
// =============================================================================

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List, acknowledge and resolve alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := client.ListAlerts(cmd.Context(), models.AlertFilter{
			Status:   models.AlertStatus(strings.ToUpper(alertStatus)),
			Severity: models.Severity(strings.ToUpper(alertSeverity)),
			CycleID:  alertCycle,
		})
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd, list)
		}
		rows := make([][]string, 0, len(list))
		for _, a := range list {
			rows = append(rows, []string{a.ID, string(a.Severity), string(a.Status), string(a.Kind), a.CycleID, a.Message})
		}
		return printTable(cmd, []string{"ID", "SEVERITY", "STATUS", "KIND", "CYCLE", "MESSAGE"}, rows)
	},
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack [id]",
	Short: "Acknowledge an open alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := client.AckAlert(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printAlertStatus(cmd, a)
	},
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve [id]",
	Short: "Resolve an acknowledged alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := client.ResolveAlert(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printAlertStatus(cmd, a)
	},
}

var alertsMapCmd = &cobra.Command{
	Use:   "map",
	Short: "Show the highest open-alert severity per cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := client.ListAlerts(cmd.Context(), models.AlertFilter{Status: models.AlertOpen})
		if err != nil {
			return err
		}
		m := alerts.Aggregate(list)
		if asJSON {
			return printJSON(cmd, m)
		}
		rows := make([][]string, 0, len(m))
		for _, id := range sortedKeys(m) {
			rows = append(rows, []string{id, string(m[id])})
		}
		return printTable(cmd, []string{"CYCLE", "SEVERITY"}, rows)
	},
}

func printAlertStatus(cmd *cobra.Command, a models.Alert) error {
	if asJSON {
		return printJSON(cmd, a)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", a.ID, a.Status)
	return nil
}

// =============================================================================
// HISTORY / RECONCILE / EXPORT
// =============================================================================

// kind returns the history and reconcile calls for "material" or "batch".
func kind(name string) (history func(context.Context, string) ([]models.HistoryEvent, error),
	reconcile func(context.Context, string) (models.ReconcileResult, error),
	apply func(context.Context, string) (models.ApplyResult, error), err error) {
	switch name {
	case "material":
		return client.MaterialHistory, client.ReconcileMaterial, client.ApplyMaterialReconcile, nil
	case "batch":
		return client.BatchHistory, client.ReconcileBatch, client.ApplyBatchReconcile, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown target %q (want material or batch)", name)
}

var historyCmd = &cobra.Command{
	Use:       "history [material|batch] [id]",
	Short:     "Show the merged DB and ledger history",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"material", "batch"},
	RunE: func(cmd *cobra.Command, args []string) error {
		history, _, _, err := kind(args[0])
		if err != nil {
			return err
		}
		list, err := history(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd, list)
		}
		rows := make([][]string, 0, len(list))
		for _, ev := range list {
			rows = append(rows, []string{stamp(ev.Timestamp), string(ev.Source), string(ev.Stage), ev.Operator, ev.Result, ev.TxID})
		}
		return printTable(cmd, []string{"TIME", "SOURCE", "STAGE", "OPERATOR", "RESULT", "TX"}, rows)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [material|batch] [id]",
	Short: "Compare DB and ledger records, optionally applying the fix",
	Long: `Without --apply the backend's diff is printed. With --apply the backend
writes the missing records and the number written is printed.`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"material", "batch"},
	RunE: func(cmd *cobra.Command, args []string) error {
		_, reconcile, apply, err := kind(args[0])
		if err != nil {
			return err
		}
		if reconcileApply {
			res, err := apply(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d records to %s %s\n", res.Applied, args[0], res.TargetID)
			return nil
		}

		res, err := reconcile(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd, res)
		}
		out := cmd.OutOrStdout()
		s := res.Summary
		fmt.Fprintf(out, "db=%d ledger=%d matched=%d missing-db=%d missing-ledger=%d mismatch=%d\n",
			s.DB, s.Ledger, s.Matched, s.MissingDB, s.MissingLedger, s.Mismatch)
		fmt.Fprintf(out, "policy: %s (%d/%d)\n", res.Policy.Status, res.Policy.ReprocessCount, res.Policy.Limit)
		if res.InSync() {
			fmt.Fprintln(out, "in sync")
			return nil
		}
		rows := make([][]string, 0, len(res.Diffs))
		for _, d := range res.Diffs {
			rows = append(rows, []string{fmt.Sprint(d.Index), string(d.Kind), strings.Join(d.Fields, ",")})
		}
		return printTable(cmd, []string{"INDEX", "KIND", "FIELDS"}, rows)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [material|batch] [id]",
	Short: "Write the history (and reconcile diff) to an XLSX file",
	Long: `Example:
  sterictl export material 42 -o material-42.xlsx --reconcile`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"material", "batch"},
	RunE: func(cmd *cobra.Command, args []string) error {
		history, reconcile, _, err := kind(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		list, err := history(ctx, args[1])
		if err != nil {
			return err
		}
		report := export.Report{TargetType: args[0], TargetID: args[1], History: list}
		if exportReconcile {
			res, err := reconcile(ctx, args[1])
			if err != nil {
				return err
			}
			report.Reconcile = &res
		}
		raw, err := export.Workbook(report)
		if err != nil {
			return err
		}
		path := exportOut
		if path == "" {
			path = report.Filename()
		}
		if err := os.WriteFile(path, raw, 0644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d events to %s\n", len(list), path)
		return nil
	},
}

// =============================================================================
// METRICS / SEARCH
// =============================================================================

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show the dashboard overview counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := client.MetricsOverview(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, m)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [code]",
	Short: "Resolve a scanned or typed code to a material, batch or cycle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := client.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd, res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", res.Type, res.ID)
		return nil
	},
}

// =============================================================================
// WATCH
// =============================================================================

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print live events from the backend stream until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		body, err := client.Stream(ctx, "")
		if err != nil {
			return err
		}
		defer body.Close()
		return watch(ctx, body, cmd.OutOrStdout())
	},
}

// watch prints every event except keepalive pings. The stream ending is not an
// error; neither is the user interrupting.
func watch(ctx context.Context, body io.Reader, out io.Writer) error {
	r := events.NewReader(body)
	for {
		ev, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ev.Name == events.EventPing {
			continue
		}
		fmt.Fprintf(out, "%s\t%s\t%s\n", time.Now().Format(time.RFC3339), ev.Name, ev.Data)
	}
}

func init() {
	loginCmd.Flags().StringVar(&loginUser, "user", "", "user name")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "password")

	materialsListCmd.Flags().StringVar(&materialSearch, "search", "", "filter by name or code")
	materialsCmd.AddCommand(materialsListCmd, materialsGetCmd)

	alertsListCmd.Flags().StringVar(&alertStatus, "status", "", "OPEN, ACKED or RESOLVED")
	alertsListCmd.Flags().StringVar(&alertSeverity, "severity", "", "INFO, WARNING or CRITICAL")
	alertsListCmd.Flags().StringVar(&alertCycle, "cycle", "", "cycle id")
	alertsCmd.AddCommand(alertsListCmd, alertsAckCmd, alertsResolveCmd, alertsMapCmd)

	reconcileCmd.Flags().BoolVar(&reconcileApply, "apply", false, "write the missing records")

	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "output file (default <target>-<id>-history.xlsx)")
	exportCmd.Flags().BoolVar(&exportReconcile, "reconcile", false, "add a Reconcile sheet")
}
