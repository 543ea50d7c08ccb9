// Command paranoid is the CLI for the local codebase-intelligence engine:
// per-project summaries, a static code graph, and a vector index that
// together answer questions about a codebase without leaving the machine.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bradylowe/paranoid-coder/internal/errs"
)

var (
	flagJSON bool
	logger   *zap.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "paranoid",
		Short:         "Local, privacy-preserving codebase intelligence",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&flagJSON, "json", false, "emit machine-readable output")

	root.AddCommand(
		newInitCmd(),
		newSummarizeCmd(),
		newAnalyzeCmd(),
		newIndexCmd(),
		newAskCmd(),
		newStatusCmd(),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		reportError(err)
		os.Exit(1)
	}
}

// reportError prints the structured error shape when the consumer asked
// for machine-readable output.
func reportError(err error) {
	var te *errs.Error
	if flagJSON && errors.As(err, &te) {
		out, _ := json.Marshal(map[string]any{
			"kind":       string(te.Kind),
			"message":    te.Message,
			"remedy":     te.Remedy,
			"next_steps": te.NextSteps,
		})
		fmt.Fprintln(os.Stderr, string(out))
		return
	}
	fmt.Fprintln(os.Stderr, "error:", err)
}

// printJSON writes v as JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
