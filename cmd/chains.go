package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"zerodust/pkg/chains"
	"zerodust/pkg/fee"
	"zerodust/pkg/price"
)

var (
	onlyDeployed bool
	showBalances bool
)

var chainsCmd = &cobra.Command{
	Use:     "chains",
	Aliases: []string{"ls"},
	Short:   "List supported chains",
	Long: `List the chains known to the sweeper and whether the sweep contract is deployed on them.

With --balances the native balance of the configured wallet is read on every
chain that has an RPC URL (ZERODUST_RPC_<CHAINID>).

Examples:
  zerodust chains
  zerodust chains --deployed
  zerodust chains --balances`,
	Run: runChains,
}

func init() {
	rootCmd.AddCommand(chainsCmd)

	chainsCmd.Flags().BoolVar(&onlyDeployed, "deployed", false, "Only show chains with the sweep contract deployed")
	chainsCmd.Flags().BoolVar(&showBalances, "balances", false, "Show the wallet balance on each chain")
}

type chainRow struct {
	ID         uint64  `json:"id"`
	Name       string  `json:"name"`
	Symbol     string  `json:"symbol"`
	Tier       int     `json:"tier"`
	Deployed   bool    `json:"deployed"`
	Contract   string  `json:"contract,omitempty"`
	Balance    string  `json:"balance,omitempty"`
	BalanceUSD float64 `json:"balance_usd,omitempty"`
	Error      string  `json:"error,omitempty"`
}

func runChains(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	registry := chains.Default()
	list := registry.All()
	if onlyDeployed {
		list = registry.Deployed()
	}

	rows := make([]chainRow, len(list))
	for i, c := range list {
		rows[i] = chainRow{
			ID:       c.ID,
			Name:     c.Name,
			Symbol:   c.Symbol,
			Tier:     c.Tier,
			Deployed: c.IsDeployed(),
			Contract: c.ContractAddress,
		}
	}

	if showBalances {
		fillBalances(rows, jsonOutput)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(rows, "", "  ")
		fmt.Println(string(jsonData))
		return
	}
	displayChains(rows)
}

// fillBalances reads the wallet balance on every chain with an RPC URL, concurrently
func fillBalances(rows []chainRow, jsonOutput bool) {
	cfg := loadConfig()
	w := openWallet(cfg, false)
	defer w.Close()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Reading balances..."
		s.Start()
		defer s.Stop()
	}

	ctx, cancel := commandContext(cfg.QuoteTimeout)
	defer cancel()

	oracle := price.NewOracle(logger, price.WithBaseURL(cfg.PriceAPIURL))
	table, err := oracle.FetchPrices(ctx)
	if err != nil {
		logger.WithError(err).Warn("Using fallback prices")
	}

	var wg sync.WaitGroup
	for i := range rows {
		if !w.HasRPC(rows[i].ID) {
			continue
		}
		wg.Add(1)
		go func(row *chainRow) {
			defer wg.Done()
			balance, err := readBalance(ctx, w.GetBalance, w.Address(), row.ID)
			if err != nil {
				row.Error = err.Error()
				return
			}
			row.Balance = fee.FormatNative(balance)
			row.BalanceUSD = fee.WeiToUSD(balance, price.Price(row.Symbol, table))
		}(&rows[i])
	}
	wg.Wait()
}

func readBalance(ctx context.Context, get func(context.Context, string, uint64) (*big.Int, error), address string, chainID uint64) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return get(ctx, address, chainID)
}

func displayChains(rows []chainRow) {
	if len(rows) == 0 {
		fmt.Println("\nNo chains found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                              SUPPORTED CHAINS")
	fmt.Println(strings.Repeat("=", 90))

	deployed := 0
	for _, r := range rows {
		status := color.HiBlackString("not deployed")
		if r.Deployed {
			status = color.GreenString("deployed")
			deployed++
		}

		fmt.Printf("  %-10d %-22s %-6s %s",
			r.ID,
			r.Name,
			color.YellowString(r.Symbol),
			status)

		switch {
		case r.Error != "":
			fmt.Printf("  %s", color.RedString("balance unavailable"))
		case r.Balance != "":
			fmt.Printf("  %s %s ($%.2f)", r.Balance, r.Symbol, r.BalanceUSD)
		}
		fmt.Println()
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d chains, %d with the sweep contract deployed\n\n", len(rows), deployed)
	if showBalances {
		color.HiBlack("Balances are shown for chains with ZERODUST_RPC_<CHAINID> configured.\n")
	}
}
