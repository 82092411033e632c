package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentuse/agentuse/internal/agentfile"
	"github.com/agentuse/agentuse/internal/registry"
	"github.com/agentuse/agentuse/internal/scheduler"
	"github.com/agentuse/agentuse/internal/server"
	"github.com/agentuse/agentuse/internal/worker"
)

var serveFlags struct {
	port      int
	host      string
	directory string
	debug     bool
	noAuth    bool
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the AgentUse HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	cmd.Flags().IntVar(&serveFlags.port, "port", 8787, "listen port")
	cmd.Flags().StringVar(&serveFlags.host, "host", "127.0.0.1", "listen host")
	cmd.Flags().StringVar(&serveFlags.directory, "directory", ".", "project root containing *.agentuse files")
	cmd.Flags().BoolVar(&serveFlags.debug, "debug", false, "enable debug logging")
	cmd.Flags().BoolVar(&serveFlags.noAuth, "no-auth", false, "disable bearer token auth even on a non-loopback host")

	cmd.AddCommand(servePSCmd())
	return cmd
}

func servePSCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "List running AgentUse servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServePS()
		},
	}
}

func runServePS() error {
	dir, err := registry.DefaultDir()
	if err != nil {
		return err
	}
	reg, err := registry.Open(dir)
	if err != nil {
		return err
	}
	entries, err := reg.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no running servers")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tHOST\tPORT\tPROJECT\tSTARTED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", e.PID, e.Host, e.Port, e.ProjectRoot, e.StartTime.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runServe() error {
	if serveFlags.debug {
		verbose = true
		initLogging()
	}

	projectRoot, err := filepath.Abs(serveFlags.directory)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	selfPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable path: %w", err)
	}

	token := os.Getenv("AGENTUSE_TOKEN")
	loopback := serveFlags.host == "127.0.0.1" || serveFlags.host == "localhost" || serveFlags.host == "::1"
	if token == "" && !loopback && !serveFlags.noAuth {
		return fmt.Errorf("binding to non-loopback host %q requires AGENTUSE_TOKEN (or pass --no-auth to override)", serveFlags.host)
	}

	regDir, err := registry.DefaultDir()
	if err != nil {
		return err
	}
	reg, err := registry.Open(regDir)
	if err != nil {
		return err
	}

	// srv is assigned below; the scheduler's runner closure captures it by
	// reference so scheduled firings dispatch through the same persistent
	// worker pool the HTTP handler uses, per spec.md §4.9. The closure is
	// never invoked until sched.Run starts, after srv is constructed.
	var srv *server.Server
	sched := scheduler.New(func(ctx context.Context, agentPath string) error {
		return runScheduledAgent(ctx, srv.Worker(), agentPath)
	}, 0, slog.Default())

	scheduleCount := discoverSchedules(projectRoot, sched)

	srv = server.New(server.Config{
		Addr:        fmt.Sprintf("%s:%d", serveFlags.host, serveFlags.port),
		Token:       token,
		ProjectRoot: projectRoot,
		SelfPath:    selfPath,
		Registry:    reg,
		Scheduler:   sched,
		Logger:      slog.Default(),
	})

	entry := registry.Entry{
		PID: os.Getpid(), Port: serveFlags.port, Host: serveFlags.host,
		ProjectRoot: projectRoot, StartTime: time.Now().UTC(),
		ScheduleCount: scheduleCount, Version: Version,
	}
	if err := reg.Write(entry); err != nil {
		slog.Warn("registry.write_failed", "error", err)
	}
	defer reg.Remove(os.Getpid())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sched.Run(ctx)

	return srv.Start(ctx)
}

// discoverSchedules walks projectRoot for *.agentuse files with a schedule
// field and registers each, returning the count for the registry entry.
func discoverSchedules(projectRoot string, sched *scheduler.Scheduler) int {
	count := 0
	_ = filepath.Walk(projectRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.HasSuffix(path, ".agentuse") {
			return nil
		}
		agent, loadErr := agentfile.Load(path)
		if loadErr != nil || agent.Config.Schedule == "" {
			return nil
		}
		if err := sched.Add(path, agent.Config.Schedule); err != nil {
			slog.Warn("scheduler.add_failed", "path", path, "error", err)
			return nil
		}
		count++
		return nil
	})
	return count
}

// runScheduledAgent fires one scheduled agent through the same persistent
// worker pool an HTTP /run request uses, per spec.md §4.9 ("the worker is
// spawned once at startup and serves all subsequent runs").
func runScheduledAgent(ctx context.Context, pool *worker.Pool, agentPath string) error {
	w, err := pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("get worker for scheduled run: %w", err)
	}

	events, err := w.Send(worker.Request{ID: fmt.Sprintf("sched-%d", time.Now().UnixNano()), AgentFile: agentPath})
	if err != nil {
		return fmt.Errorf("dispatch scheduled run: %w", err)
	}
	for resp := range events {
		if resp.Error != "" {
			return fmt.Errorf("scheduled run failed: %s", resp.Error)
		}
		if resp.Done {
			break
		}
	}
	return nil
}
