package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"zerodust/config"
	"zerodust/pkg/chains"
	"zerodust/pkg/client"
	"zerodust/pkg/fee"
	"zerodust/pkg/history"
	"zerodust/pkg/parser"
	"zerodust/pkg/price"
	"zerodust/pkg/sweep"
	"zerodust/pkg/sweeperr"
)

var (
	fromChain string
	toChain   string
	noConfirm bool
	dryRun    bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep <source-chain> to <destination-chain>",
	Short: "Sweep the whole native balance of a chain to another chain",
	Long: `Move 100% of the native balance on the source chain to the destination chain.
The protocol fee (a $0.05 base fee plus the gas cost with a 20% buffer) is taken
from the swept amount.

Chains can be given by chain ID, name or alias (see: zerodust chains).

IMPORTANT:
  - Requires ZERODUST_PRIVATE_KEY and an RPC URL for the source chain (ZERODUST_RPC_<CHAINID>)
  - Requires ZERODUST_BUNGEE_ENDPOINT and ZERODUST_BUNGEE_API_KEY for routing
  - The source chain must have the sweep contract deployed

Examples:
  zerodust sweep sepolia to base-sepolia
  zerodust sweep 11155111 to 84532 --yes
  zerodust sweep --from arbitrum-sepolia --to optimism-sepolia --dry-run`,
	Run: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().StringVar(&fromChain, "from", "", "Source chain (overrides the command text)")
	sweepCmd.Flags().StringVar(&toChain, "to", "", "Destination chain (overrides the command text)")
	sweepCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
	sweepCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the route and fees without submitting")
}

func runSweep(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	source, dest := resolveSweepChains(args)

	// Load configuration; routing settings are checked before anything else
	cfg := loadConfig()
	if err := cfg.ValidateQuoting(); err != nil {
		printError(err)
		os.Exit(1)
	}

	// Exit only after the wallet, price refresh and orchestrator are torn down
	if err := executeSweep(cfg, source, dest, jsonOutput); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func executeSweep(cfg *config.Config, source, dest chains.Chain, jsonOutput bool) error {
	w := openWallet(cfg, true)
	defer w.Close()

	quoter, err := client.NewBungeeClient(cfg.BungeeEndpoint, cfg.BungeeAPIKey, logger, client.WithTimeout(cfg.QuoteTimeout))
	if err != nil {
		return err
	}

	store, err := history.NewStore(cfg.HistoryPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching prices..."
		s.Start()
	}

	oracle := price.NewOracle(logger, price.WithBaseURL(cfg.PriceAPIURL), price.WithInterval(cfg.PriceRefreshInterval))
	if _, err := oracle.FetchPrices(ctx); err != nil && !jsonOutput {
		s.Stop()
		color.Yellow("\nPrice service unavailable, using fallback prices: %v", err)
		s.Start()
	}
	oracle.Start(ctx)
	defer oracle.Stop()

	orch := sweep.New(sweep.Deps{
		Registry: chains.Default(),
		Prices:   oracle,
		Quoter:   quoter,
		Wallet:   w,
	},
		sweep.WithGasOracle(w),
		sweep.WithRecorder(store),
		sweep.WithFallbackGasCost(cfg.GasCostUSD),
		sweep.WithLogger(logger),
	)
	defer orch.Close()

	s.Suffix = fmt.Sprintf(" Reading balance on %s...", source.Name)
	if err := orch.SelectSource(ctx, source.ID); err != nil {
		s.Stop()
		return err
	}

	s.Suffix = " Fetching route..."
	if err := orch.SelectDestination(ctx, dest.ID); err != nil {
		s.Stop()
		return err
	}
	orch.Settle()
	if !jsonOutput {
		s.Stop()
	}

	view := orch.Snapshot()

	if jsonOutput {
		printViewJSON(view)
	} else {
		displayPreview(view)
	}

	if view.QuoteErr != nil {
		return view.QuoteErr
	}
	if !view.Decision.CanSweep {
		return sweeperr.Validation(sweeperr.StepEligibility, view.Decision.Reason)
	}
	if view.Fee != nil && !view.Fee.Covered() && !jsonOutput {
		color.Red("The balance does not cover the fee; sweeping would leave you with nothing.")
	}
	if dryRun {
		if !jsonOutput {
			fmt.Println("Dry run: nothing was submitted.")
		}
		return nil
	}

	// Ask for confirmation
	if !noConfirm && !jsonOutput {
		if !confirmSweep() {
			fmt.Println("\nSweep cancelled.")
			return nil
		}
	}

	if !jsonOutput {
		s.Suffix = " Fetching final route and submitting..."
		s.Start()
	}
	handle, err := orch.Confirm(ctx)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		output := map[string]interface{}{
			"status":            "submitted",
			"tx_hash":           handle.Hash,
			"source_chain_id":   view.Source.ID,
			"dest_chain_id":     view.Destination.ID,
			"amount":            fee.FormatNative(handle.Value),
			"submitted_at_unix": handle.SubmittedAt.Unix(),
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
		return nil
	}

	color.Green("\n✓ Sweep submitted!")
	fmt.Printf("  Transaction: %s\n", color.CyanString(handle.Hash))
	if url, ok := chains.Default().TxURL(view.Source.ID, handle.Hash); ok {
		fmt.Printf("  Explorer:    %s\n", url)
	}
	fmt.Println("\nYou can follow the sweep using:")
	color.Cyan("  zerodust status %s --chain %d\n", handle.Hash, view.Source.ID)
	printSuccess(fmt.Sprintf("Your %s %s is being bridged from %s to %s.",
		fee.FormatNative(handle.Value), view.Source.Symbol, view.Source.Name, view.Destination.Name))
	return nil
}

// resolveSweepChains reads the chains from flags or the "<source> to <dest>" arguments
func resolveSweepChains(args []string) (chains.Chain, chains.Chain) {
	sourceRef, destRef := fromChain, toChain

	if len(args) > 0 {
		req, err := parser.ParseSweepCommand(strings.Join(args, " "))
		if err != nil && (sourceRef == "" || destRef == "") {
			printError(err)
			os.Exit(1)
		}
		if err == nil {
			if sourceRef == "" {
				sourceRef = req.SourceChain
			}
			if destRef == "" {
				destRef = req.DestChain
			}
		}
	}

	if sourceRef == "" || destRef == "" {
		printError(fmt.Errorf("source and destination chains are required. Expected: 'zerodust sweep <source> to <destination>'"))
		os.Exit(1)
	}

	registry := chains.Default()
	source, err := registry.Lookup(sourceRef)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	dest, err := registry.Lookup(destRef)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	return source, dest
}

func displayPreview(v sweep.View) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWEEP PREVIEW")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Wallet:            %s\n", color.CyanString(v.Address))
	if v.Source != nil {
		fmt.Printf("  From:              %s (%d)\n", v.Source.Name, v.Source.ID)
	}
	if v.Destination != nil {
		fmt.Printf("  To:                %s (%d)\n", v.Destination.Name, v.Destination.ID)
	}
	if v.Source != nil && v.Balance != nil {
		fmt.Printf("  Balance:           %s %s\n", fee.FormatNative(v.Balance), color.YellowString(v.Source.Symbol))
		fmt.Printf("  Price:             $%.4f\n", v.PriceUSD)
	}

	if v.Fee != nil {
		fmt.Printf("\n  Amount:            $%.4f\n", v.Fee.AmountUSD)
		fmt.Printf("  Base fee:          $%.4f\n", v.Fee.BaseFee)
		fmt.Printf("  Gas (+20%%):        $%.4f\n", v.Fee.GasBuffer)
		fmt.Printf("  Total fee:         $%.4f (%.3f%%)\n", v.Fee.TotalFee, v.Fee.FeePercentage)
		fmt.Printf("  You receive:       ~$%.4f\n", v.Fee.UserReceives)
	}

	switch {
	case v.Quote != nil:
		fmt.Printf("\n  Route:             %s\n", color.MagentaString("Bungee"))
		if v.Quote.OutputAmount != nil {
			fmt.Printf("  Estimated output:  %s\n", fee.FormatNative(v.Quote.OutputAmount))
		}
		if v.Quote.EstimatedTime > 0 {
			fmt.Printf("  Estimated time:    %s\n", v.Quote.EstimatedTime)
		}
	case v.QuoteErr != nil:
		fmt.Printf("\n  Route:             %s\n", color.RedString("unavailable"))
	}

	if v.Source != nil && !v.SourceDeployed {
		color.Yellow("\n  Sweeping is not available on %s yet.", v.Source.Name)
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func printViewJSON(v sweep.View) {
	output := map[string]interface{}{
		"state":           v.State,
		"address":         v.Address,
		"can_sweep":       v.Decision.CanSweep,
		"executable":      v.Decision.Executable,
		"reason":          v.Decision.Reason,
		"source_deployed": v.SourceDeployed,
		"gas_cost_usd":    v.GasCostUSD,
		"price_usd":       v.PriceUSD,
	}
	if v.Source != nil {
		output["source_chain_id"] = v.Source.ID
	}
	if v.Destination != nil {
		output["dest_chain_id"] = v.Destination.ID
	}
	if v.Balance != nil {
		output["balance"] = fee.FormatNative(v.Balance)
	}
	if v.Fee != nil {
		output["fee"] = v.Fee
	}
	if v.Quote != nil {
		output["quote_id"] = v.Quote.QuoteID
	}
	if v.QuoteErr != nil {
		output["quote_error"] = v.QuoteErr.Error()
	}
	jsonData, _ := json.MarshalIndent(output, "", "  ")
	fmt.Println(string(jsonData))
}

func confirmSweep() bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("\nProceed with sweep? (y/N): ")

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
