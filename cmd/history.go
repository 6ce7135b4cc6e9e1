package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"zerodust/pkg/chains"
	"zerodust/pkg/history"
)

var historyStatusFilter string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past sweep attempts",
	Long: `List every confirmed sweep attempt recorded on this machine, newest first.

Examples:
  zerodust history
  zerodust history --status failed
  zerodust history show 3f2a`,
	Run: runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one sweep attempt",
	Long:  `Show a recorded sweep attempt by its ID or an unambiguous ID prefix (at least 4 characters).`,
	Args:  cobra.ExactArgs(1),
	Run:   runHistoryShow,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)

	historyCmd.Flags().StringVar(&historyStatusFilter, "status", "", "Filter by status (submitted, failed)")
}

func openHistory() *history.Store {
	cfg := loadConfig()
	store, err := history.NewStore(cfg.HistoryPath)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	return store
}

func runHistoryList(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	store := openHistory()

	var records []*history.Record
	switch history.Status(strings.ToLower(historyStatusFilter)) {
	case "":
		records = store.List()
	case history.StatusSubmitted, history.StatusFailed:
		records = store.ListByStatus(history.Status(strings.ToLower(historyStatusFilter)))
	default:
		printError(fmt.Errorf("invalid status filter: %s (use submitted or failed)", historyStatusFilter))
		os.Exit(1)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(records, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	if len(records) == 0 {
		fmt.Println("\nNo sweeps recorded yet.")
		fmt.Printf("History file: %s\n\n", store.Path())
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 110))
	color.Green("                                         SWEEP HISTORY")
	fmt.Println(strings.Repeat("=", 110))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nID\tTIMESTAMP\tROUTE\tAMOUNT\tUSD\tFEE\tSTATUS")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s %s\t$%.2f\t$%.4f\t%s\n",
			shortID(r.ID),
			r.Timestamp.Format("2006-01-02 15:04"),
			fmt.Sprintf("%s -> %s", r.SourceChain, r.DestinationChain),
			r.Amount, r.Symbol,
			r.AmountUSD,
			r.TotalFeeUSD,
			statusColor(r.Status))
	}

	w.Flush()
	fmt.Println("\n" + strings.Repeat("=", 110))
	fmt.Printf("\nTotal: %d of %d sweeps\n\n", len(records), store.Count())
}

func runHistoryShow(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	store := openHistory()

	r, err := store.Get(args[0])
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(r, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                         SWEEP %s", shortID(r.ID))
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  ID:            %s\n", r.ID)
	fmt.Printf("  Time:          %s\n", r.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Wallet:        %s\n", r.Address)
	fmt.Printf("  Route:         %s (%d) -> %s (%d)\n", r.SourceChain, r.SourceChainID, r.DestinationChain, r.DestinationChainID)
	fmt.Printf("  Amount:        %s %s ($%.4f)\n", r.Amount, r.Symbol, r.AmountUSD)
	fmt.Printf("  Total fee:     $%.4f\n", r.TotalFeeUSD)
	fmt.Printf("  You receive:   ~$%.4f\n", r.UserReceivesUSD)
	fmt.Printf("  Status:        %s\n", statusColor(r.Status))

	if r.TxHash != "" {
		fmt.Printf("  Transaction:   %s\n", color.CyanString(r.TxHash))
		if url, ok := chains.Default().TxURL(r.SourceChainID, r.TxHash); ok {
			fmt.Printf("  Explorer:      %s\n", url)
		}
	}
	if r.Error != "" {
		fmt.Printf("  Failed step:   %s\n", r.Step)
		fmt.Printf("  Error:         %s\n", color.RedString(r.Error))
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func statusColor(s history.Status) string {
	switch s {
	case history.StatusSubmitted:
		return color.GreenString(string(s))
	case history.StatusFailed:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
