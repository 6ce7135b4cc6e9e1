package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"zerodust/config"
	"zerodust/pkg/metrics"
	"zerodust/pkg/sweeperr"
	"zerodust/pkg/wallet"
)

var (
	configFile  string
	logFormat   string
	metricsAddr string

	logger = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "zerodust",
	Short: "Sweep dust balances across EVM chains",
	Long: `zerodust moves the entire native balance of a wallet from one chain to another.
The sweep contract covers network fees from the swept amount, so nothing is left behind.

Examples:
  zerodust sweep sepolia to base-sepolia
  zerodust chains --balances
  zerodust prices
  zerodust status <tx-hash> --chain 11155111
  zerodust contract --chain 84532
  zerodust history --status failed`,
	Version:           "0.1.0",
	PersistentPreRunE: setup,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default $HOME/.zerodust.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}

// setup configures logging and the optional metrics endpoint for every command
func setup(cmd *cobra.Command, args []string) error {
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	switch logFormat {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format '%s' (use text or json)", logFormat)
	}

	if metricsAddr != "" {
		startMetricsServer(metricsAddr)
	}
	return nil
}

func startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("addr", addr).Info("Serving metrics")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configFile)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	return cfg
}

// openWallet returns a signing wallet when a private key is configured, otherwise a
// read-only wallet for the configured address
func openWallet(cfg *config.Config, requireSigner bool) *wallet.EVMWallet {
	opts := []wallet.Option{wallet.WithGasLimit(cfg.SweepGasLimit)}

	if cfg.PrivateKey != "" {
		w, err := wallet.NewEVMWallet(cfg.PrivateKey, cfg.RPCURLs, logger, opts...)
		if err != nil {
			printError(err)
			os.Exit(1)
		}
		return w
	}

	if requireSigner {
		printError(cfg.ValidateSigning())
		os.Exit(1)
	}

	w, err := wallet.NewReadOnlyWallet(cfg.WalletAddress, cfg.RPCURLs, logger, opts...)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	return w
}

func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

func printError(err error) {
	fmt.Printf("\nError: %v\n", err)

	switch sweeperr.KindOf(err) {
	case sweeperr.KindNetwork, sweeperr.KindSubmission:
		color.Yellow("The %s step can be retried as is.\n", stepLabel(err))
	case sweeperr.KindConfiguration:
		color.Yellow("Fix the configuration and run the command again.\n")
	case sweeperr.KindDeploymentGap:
		color.Yellow("Choose a source chain where the sweep contract is deployed (zerodust chains --deployed).\n")
	}
	fmt.Println()
}

func stepLabel(err error) string {
	switch sweeperr.StepOf(err) {
	case sweeperr.StepBalance:
		return "balance"
	case sweeperr.StepPrices:
		return "price"
	case sweeperr.StepPreviewQuote:
		return "route preview"
	case sweeperr.StepFinalQuote:
		return "final route"
	case sweeperr.StepSubmit:
		return "submission"
	default:
		return "last"
	}
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", message)
}
