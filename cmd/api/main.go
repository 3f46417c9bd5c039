// Command api serves the snippet runner over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags.
var (
	version = "dev"
	commit  = ""
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "snippet-runner",
		Short: "Compile and run Go snippets in a sandbox",
		Long: `snippet-runner accepts Go snippets or multi-file workspaces over HTTP,
compiles them, runs them under separate infrastructure and user-code
time budgets, and answers completion queries at a cursor position.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("SNIPPET_RUNNER_CONFIG"), "Path to a YAML config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func main() {
	root := newRootCmd()
	// No subcommand means serve.
	if len(os.Args) == 1 {
		root.SetArgs([]string{"serve"})
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
