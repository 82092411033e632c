package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0".
var Version = "dev"

var (
	verbose        bool
	internalWorker bool
)

var rootCmd = &cobra.Command{
	Use:   "agentuse",
	Short: "AgentUse — run declarative AI agent files",
	Long:  "AgentUse runs *.agentuse files: markdown agents with a YAML configuration header, driven through a tool-using model loop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if internalWorker {
			return runWorkerMode()
		}
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	// Hidden: the HTTP service re-invokes this binary with exactly this flag
	// to spawn its worker subprocess, per spec.md §4.9/§6.
	rootCmd.PersistentFlags().BoolVar(&internalWorker, "internal-worker", false, "internal: run in worker IPC mode")
	_ = rootCmd.PersistentFlags().MarkHidden("internal-worker")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())

	cobra.OnInitialize(initLogging)
}

// initLogging sends logs to stderr, not stdout: in worker mode stdout
// carries the newline-delimited JSON protocol frames (spec.md §4.9) and a
// stray log line there would desync the reader on the other end.
func initLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentuse %s\n", Version)
		},
	}
}

// Execute runs the root cobra command: exit code 0 on success, 1 on any
// error. SIGINT or SIGTERM stops `serve` by cancelling its context, after
// which it returns normally and the process exits 0; no path exits with 130.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
