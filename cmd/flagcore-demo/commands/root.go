package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	flagcore "github.com/flagcore-io/flagcore-go"
	"github.com/spf13/cobra"
)

var (
	sdkKey      string
	mode        string
	streamURI   string
	pollURI     string
	eventsURI   string
	offlineFile string
	flagKey     string
	contextKey  string
	initTimeout time.Duration
)

// rootCmd is the entire flagcore-demo surface: one command that builds
// a Client, waits for it to initialize, evaluates a single flag for a
// single context, and prints the result. It is not a flag-management
// tool, so unlike flagship it carries no subcommands.
var rootCmd = &cobra.Command{
	Use:   "flagcore-demo",
	Short: "Evaluate one flag through the flagcore SDK and print the result",
	Long: `flagcore-demo exercises the flagcore client's runtime surface: it
connects (or loads offline data), waits for initialization, evaluates
a single flag for a single context, and prints the EvalResult as JSON.

Examples:
  flagcore-demo --sdk-key demo --flag example-flag --context-key alice
  flagcore-demo --mode offline --offline-file testdata/flags.json --flag example-flag`,
	RunE: runDemo,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().StringVar(&sdkKey, "sdk-key", "", "SDK key sent as the Authorization header")
	rootCmd.Flags().StringVar(&mode, "mode", "streaming", "Data source mode: streaming, polling, or offline")
	rootCmd.Flags().StringVar(&streamURI, "stream-uri", "", "SSE endpoint consulted in streaming mode")
	rootCmd.Flags().StringVar(&pollURI, "poll-uri", "", "Snapshot endpoint consulted in polling mode")
	rootCmd.Flags().StringVar(&eventsURI, "events-uri", "", "Base URL analytics events are POSTed to (omit to disable events)")
	rootCmd.Flags().StringVar(&offlineFile, "offline-file", "", "Path to a JSON flag/segment data set consulted in offline mode")
	rootCmd.Flags().StringVar(&flagKey, "flag", "", "Key of the flag to evaluate")
	rootCmd.Flags().StringVar(&contextKey, "context-key", "demo-user", "Key of the single context to evaluate against")
	rootCmd.Flags().DurationVar(&initTimeout, "init-timeout", 10*time.Second, "How long to wait for the client to initialize")
}

func runDemo(cmd *cobra.Command, args []string) error {
	if flagKey == "" {
		return fmt.Errorf("--flag is required")
	}

	cfg, err := buildConfig(cmd)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	c, err := flagcore.NewClient(sdkKey, cfg)
	if err != nil {
		return fmt.Errorf("building client: %w", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := c.WaitForInitialization(ctx); err != nil {
		return fmt.Errorf("waiting for initialization: %w", err)
	}

	result := c.JSONVariationDetail(context.Background(), flagKey, flagcore.NewContext(contextKey), nil)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
