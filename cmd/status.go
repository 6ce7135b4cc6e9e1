package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"zerodust/pkg/chains"
	"zerodust/pkg/fee"
	"zerodust/pkg/wallet"
)

var (
	statusChain   string
	watchStatus   bool
	watchInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status <tx-hash>",
	Short: "Check the status of a sweep transaction",
	Long: `Check whether a sweep transaction was mined on the source chain and show the
sweep events it emitted.

Examples:
  zerodust status 0x1234...abcd --chain sepolia
  zerodust status 0x1234...abcd --chain 11155111 --watch
  zerodust status 0x1234...abcd --chain 11155111 --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusChain, "chain", "", "Source chain of the sweep (required)")
	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch until the transaction is mined")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
	_ = statusCmd.MarkFlagRequired("chain")
}

func runStatus(cmd *cobra.Command, args []string) {
	txHash := args[0]
	jsonOutput, _ := cmd.Flags().GetBool("json")

	chain, err := chains.Default().Lookup(statusChain)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if watchStatus && jsonOutput {
		fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
		os.Exit(1)
	}

	cfg := loadConfig()
	w := openWallet(cfg, false)

	if watchStatus {
		defer w.Close()
		watchSweepStatus(w, chain, txHash)
		return
	}

	err = checkSweepStatus(w, chain, txHash, jsonOutput)
	w.Close()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
}

func checkSweepStatus(w *wallet.EVMWallet, chain chains.Chain, txHash string, jsonOutput bool) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Checking transaction status..."
		s.Start()
	}

	receipt, pending, err := fetchReceipt(w, chain.ID, txHash)
	if !jsonOutput {
		s.Stop()
	}

	if err != nil {
		return err
	}

	if jsonOutput {
		output := map[string]interface{}{
			"tx_hash": txHash,
			"chain":   chain.ID,
			"pending": pending,
		}
		if receipt != nil {
			output["receipt"] = receipt
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
		return nil
	}
	displayReceipt(chain, txHash, receipt, pending)
	return nil
}

func watchSweepStatus(w *wallet.EVMWallet, chain chains.Chain, txHash string) {
	fmt.Printf("\nWatching sweep transaction %s on %s\n", color.CyanString(txHash), chain.Name)
	fmt.Printf("Checking every %d seconds. Press Ctrl+C to stop.\n\n", watchInterval)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	// Check immediately first, then stop once mined
	for {
		receipt, pending, err := fetchReceipt(w, chain.ID, txHash)
		switch {
		case err != nil:
			color.Red("Error: %v", err)
		case !pending:
			displayReceipt(chain, txHash, receipt, false)
			return
		default:
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05"), color.YellowString("pending"))
		}
		<-ticker.C
	}
}

// fetchReceipt reports pending=true while the node has no receipt for the hash
func fetchReceipt(w *wallet.EVMWallet, chainID uint64, txHash string) (*wallet.Receipt, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	receipt, err := w.SweepReceipt(ctx, chainID, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return receipt, false, nil
}

func displayReceipt(chain chains.Chain, txHash string, receipt *wallet.Receipt, pending bool) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                         SWEEP STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Transaction:  %s\n", color.CyanString(txHash))
	fmt.Printf("  Chain:        %s (%d)\n", chain.Name, chain.ID)
	if url, ok := chains.Default().TxURL(chain.ID, txHash); ok {
		fmt.Printf("  Explorer:     %s\n", url)
	}

	if pending || receipt == nil {
		fmt.Printf("  Status:       %s\n", color.YellowString("PENDING"))
		fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
		return
	}

	if receipt.Succeeded {
		fmt.Printf("  Status:       %s\n", color.GreenString("SUCCESS"))
	} else {
		fmt.Printf("  Status:       %s\n", color.RedString("REVERTED"))
	}
	fmt.Printf("  Block:        %d\n", receipt.BlockNumber)
	fmt.Printf("  Gas used:     %d\n", receipt.GasUsed)

	for _, ev := range receipt.Events {
		color.Cyan("\n  %s", ev.Name)
		fmt.Printf("    User:         %s\n", ev.User)
		fmt.Printf("    Route:        %s -> %s\n", ev.SourceChainID, ev.DestinationChainID)
		if ev.Amount != nil {
			fmt.Printf("    Amount:       %s %s\n", fee.FormatNative(ev.Amount), chain.Symbol)
		}
		if ev.Fee != nil {
			fmt.Printf("    Fee:          %s %s\n", fee.FormatNative(ev.Fee), chain.Symbol)
		}
		if ev.TransactionHash != "" {
			fmt.Printf("    Bridge tx:    %s\n", ev.TransactionHash)
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}
