// Command tinypoold runs one worker process of the distributed object pool:
// it parses configuration, constructs a pool.Pool, registers it as the
// net/rpc receiver over HTTP (the teacher's NameNode/DataNode bootstrap,
// §6's remote endpoints), and starts the reconciliation sweep.
package main

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/rpc"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tinypool-io/tinypool/common"
	"github.com/tinypool-io/tinypool/internal/config"
	"github.com/tinypool-io/tinypool/internal/reconcile"
	"github.com/tinypool-io/tinypool/pool"
)

func main() {
	v := viper.New()
	root := &cobra.Command{
		Use:   "tinypoold",
		Short: "distributed in-memory object pool worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}
	config.BindFlags(root, v)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	var logHandler slog.Handler
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelInfo)
	if cfg.LogFile != "" {
		logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer logFile.Close()
		logHandler = slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: programLevel})
	} else {
		logHandler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel})
	}
	slog.SetDefault(slog.New(logHandler))

	p, err := pool.New(pool.Config{
		SelfID:                cfg.WorkerID,
		Peers:                 cfg.Peers,
		BaseDir:               cfg.BaseDir,
		EnableWhoHasRead:      cfg.EnableWhoHasRead,
		EnableRandomFrefServe: cfg.EnableRandomFrefServe,
		MaxMemSize:            cfg.MaxMemSize,
		SpillToDisk:           cfg.SpillToDisk,
	})
	if err != nil {
		return fmt.Errorf("constructing pool: %w", err)
	}
	slog.Info("initialized worker", "id", cfg.WorkerID, "listen", cfg.ListenAddr, "peers", len(cfg.Peers))

	if err := rpc.Register(p); err != nil {
		return fmt.Errorf("registering RPC receiver: %w", err)
	}
	rpc.HandleHTTP()
	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	sweeper := reconcile.New(p.Tracked, p, p)
	if err := sweeper.Start("@every " + common.ReconcileSweepInterval.String()); err != nil {
		return fmt.Errorf("starting reconciliation sweep: %w", err)
	}
	defer sweeper.Stop()
	defer p.Cleanup()

	slog.Info("serving", "addr", cfg.ListenAddr)
	return http.Serve(listener, nil)
}
