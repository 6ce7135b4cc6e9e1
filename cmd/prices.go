package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"zerodust/pkg/chains"
	"zerodust/pkg/price"
)

var pricesCmd = &cobra.Command{
	Use:   "prices",
	Short: "Show native asset prices used for fee calculation",
	Long: `Fetch the USD prices of every supported chain's native asset.
When the price service is unreachable the built-in fallback prices are shown.

Examples:
  zerodust prices
  zerodust prices --json`,
	Run: runPrices,
}

func init() {
	rootCmd.AddCommand(pricesCmd)
}

func runPrices(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg := loadConfig()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching prices..."
		s.Start()
	}

	ctx, cancel := commandContext(cfg.QuoteTimeout)
	defer cancel()

	oracle := price.NewOracle(logger, price.WithBaseURL(cfg.PriceAPIURL))
	table, err := oracle.FetchPrices(ctx)
	live := err == nil
	if !jsonOutput {
		s.Stop()
	}

	// Collect each symbol once, in registry order
	var symbols []string
	seen := map[string]bool{}
	for _, c := range chains.Default().All() {
		if !seen[c.Symbol] {
			seen[c.Symbol] = true
			symbols = append(symbols, c.Symbol)
		}
	}
	sort.Strings(symbols)

	if jsonOutput {
		prices := make(map[string]float64, len(symbols))
		for _, sym := range symbols {
			prices[sym] = price.Price(sym, table)
		}
		output := map[string]interface{}{
			"live":   live,
			"prices": prices,
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 40))
	color.Green("            NATIVE ASSET PRICES")
	fmt.Println(strings.Repeat("=", 40))
	for _, sym := range symbols {
		fmt.Printf("  %-8s $%12.4f\n", color.YellowString(sym), price.Price(sym, table))
	}
	fmt.Println(strings.Repeat("=", 40))

	if live {
		fmt.Printf("\nSource: %s (%s)\n\n", color.GreenString("live"), oracle.UpdatedAt().Format(time.RFC3339))
	} else {
		color.Yellow("\nSource: fallback prices (%v)\n", err)
	}
}
