package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"deepresearch/internal/ratelimit"
)

var (
	ratelimitEngine string
	cleanupDays     int
	exportFormat    string
)

// ratelimitCmd inspects and manages learned rate-limit estimates
var ratelimitCmd = &cobra.Command{
	Use:     "rate-limit",
	Aliases: []string{"ratelimit"},
	Short:   "Inspect learned rate-limit estimates",
	Long: `The tracker learns per-engine wait times from observed outcomes
and persists them across runs. These commands inspect and manage the
persisted estimates.`,
}

var ratelimitStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show learned estimates per engine",
	RunE:  runRatelimitStatus,
}

var ratelimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the learned estimate for one engine",
	RunE:  runRatelimitReset,
}

var ratelimitCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete attempt history older than a retention window",
	RunE:  runRatelimitCleanup,
}

var ratelimitExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export estimates as table, csv, or json",
	RunE:  runRatelimitExport,
}

func init() {
	ratelimitStatusCmd.Flags().StringVar(&ratelimitEngine, "engine", "", "Show one engine only")
	ratelimitResetCmd.Flags().StringVar(&ratelimitEngine, "engine", "", "Engine to reset (required)")
	ratelimitResetCmd.MarkFlagRequired("engine")
	ratelimitCleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "Retention in days (default: from config)")
	ratelimitExportCmd.Flags().StringVar(&exportFormat, "format", "table", "Output format: table, csv, json")

	ratelimitCmd.AddCommand(ratelimitStatusCmd)
	ratelimitCmd.AddCommand(ratelimitResetCmd)
	ratelimitCmd.AddCommand(ratelimitCleanupCmd)
	ratelimitCmd.AddCommand(ratelimitExportCmd)
}

func openStore() (*ratelimit.Store, error) {
	store, err := ratelimit.NewStore(trackerDBPath(), cfg.RateLimit.DecayPerDay)
	if err != nil {
		return nil, fmt.Errorf("failed to open rate-limit database: %w", err)
	}
	return store, nil
}

func loadEstimates() ([]ratelimit.Estimate, error) {
	store, err := openStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if ratelimitEngine != "" {
		est, err := store.LoadEstimate(ratelimitEngine)
		if err != nil {
			return nil, err
		}
		if est == nil {
			return nil, nil
		}
		return []ratelimit.Estimate{*est}, nil
	}
	return store.AllEstimates()
}

func runRatelimitStatus(cmd *cobra.Command, args []string) error {
	estimates, err := loadEstimates()
	if err != nil {
		return err
	}
	if len(estimates) == 0 {
		fmt.Println("No learned estimates yet.")
		return nil
	}
	return renderEstimates(estimates, "table")
}

func runRatelimitReset(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteEngine(ratelimitEngine); err != nil {
		return fmt.Errorf("failed to reset %q: %w", ratelimitEngine, err)
	}
	fmt.Printf("Estimate for %q reset; it will relearn from defaults.\n", ratelimitEngine)
	return nil
}

func runRatelimitCleanup(cmd *cobra.Command, args []string) error {
	days := cleanupDays
	if days <= 0 {
		days = cfg.RateLimit.RetentionDays
	}
	if days <= 0 {
		days = 30
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	removed, err := store.CleanupAttempts(days)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	fmt.Printf("Removed %d attempts older than %d days.\n", removed, days)
	return nil
}

func runRatelimitExport(cmd *cobra.Command, args []string) error {
	switch exportFormat {
	case "table", "csv", "json":
	default:
		return fmt.Errorf("unknown format %q (use table, csv, or json)", exportFormat)
	}

	estimates, err := loadEstimates()
	if err != nil {
		return err
	}
	return renderEstimates(estimates, exportFormat)
}

// estimateRow is the export shape for one engine's estimate.
type estimateRow struct {
	Engine      string  `json:"engine"`
	BaseWait    float64 `json:"base_wait"`
	MinWait     float64 `json:"min_wait"`
	MaxWait     float64 `json:"max_wait"`
	Confidence  float64 `json:"confidence"`
	Attempts    int64   `json:"attempts"`
	SuccessRate float64 `json:"success_rate"`
	LastUpdated string  `json:"last_updated"`
}

func renderEstimates(estimates []ratelimit.Estimate, format string) error {
	rows := make([]estimateRow, len(estimates))
	for i, est := range estimates {
		rows[i] = estimateRow{
			Engine:      est.Engine,
			BaseWait:    est.BaseWait,
			MinWait:     est.MinWait,
			MaxWait:     est.MaxWait,
			Confidence:  est.Confidence,
			Attempts:    est.Attempts,
			SuccessRate: est.SuccessRate,
			LastUpdated: est.LastUpdated.Format("2006-01-02 15:04:05"),
		}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)

	case "csv":
		w := csv.NewWriter(os.Stdout)
		if err := w.Write([]string{"engine", "base_wait", "min_wait", "max_wait", "confidence", "attempts", "success_rate", "last_updated"}); err != nil {
			return err
		}
		for _, r := range rows {
			record := []string{
				r.Engine,
				strconv.FormatFloat(r.BaseWait, 'f', 3, 64),
				strconv.FormatFloat(r.MinWait, 'f', 3, 64),
				strconv.FormatFloat(r.MaxWait, 'f', 3, 64),
				strconv.FormatFloat(r.Confidence, 'f', 3, 64),
				strconv.FormatInt(r.Attempts, 10),
				strconv.FormatFloat(r.SuccessRate, 'f', 3, 64),
				r.LastUpdated,
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()

	default:
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ENGINE\tBASE\tMIN\tMAX\tCONF\tATTEMPTS\tSUCCESS\tUPDATED")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%.2fs\t%.2fs\t%.2fs\t%.2f\t%d\t%.1f%%\t%s\n",
				r.Engine, r.BaseWait, r.MinWait, r.MaxWait, r.Confidence,
				r.Attempts, r.SuccessRate*100, r.LastUpdated)
		}
		return w.Flush()
	}
}
