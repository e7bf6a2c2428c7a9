// Package main provides agentctl, a command-line client for the run
// orchestrator's HTTP and websocket API.
//
//	agentctl runs create --agent support --input "hello" --watch
//	agentctl runs logs run_1a2b3c4d
//	agentctl watch run_1a2b3c4d
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xiaot623/agentrun/internal/client"
)

var version = "dev"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	server string
}

func (o *rootOptions) client() *client.Client {
	return client.NewClient(o.server)
}

func buildRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:          "agentctl",
		Short:        "Create, inspect and follow agent runs",
		Version:      version,
		SilenceUsage: true,
	}
	defaultServer := strings.TrimSpace(os.Getenv("AGENTRUN_URL"))
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", defaultServer, "Orchestrator base URL (or set AGENTRUN_URL)")

	rootCmd.AddCommand(
		buildRunsCmd(opts),
		buildAgentsCmd(opts),
		buildWatchCmd(opts),
	)
	return rootCmd
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
