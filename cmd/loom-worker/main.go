// Command loom-worker is the out-of-process execution engine spawned
// by a host running in out-of-process mode (see pkg/manager). It
// accepts a single loopback TCP connection from its parent, speaks the
// pkg/transport wire protocol over it, and exits once the host sends
// close_worker or drops the connection.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/loomgraph/loom/pkg/log"
	"github.com/loomgraph/loom/pkg/manager"
	"github.com/loomgraph/loom/pkg/metrics"
	"github.com/loomgraph/loom/pkg/schema"
	"github.com/spf13/cobra"

	// Node packages register their factories through blank import, the
	// same way a database/sql driver registers itself; the worker needs
	// every package the host might instruct it to load.
	_ "github.com/loomgraph/loom/pkg/nodepkg/numbergraph"
)

var rootCmd = &cobra.Command{
	Use:   "loom-worker",
	Short: "Out-of-process execution engine for a single loom topology run",
	RunE:  run,
}

func init() {
	rootCmd.Flags().String("host", "127.0.0.1", "Host address to dial")
	rootCmd.Flags().Int("port", 0, "Port the host is listening on (required)")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("metrics-addr", "", "If set, serve Prometheus metrics and health checks on this address (e.g. :9090)")
	_ = rootCmd.MarkFlagRequired("port")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "loom-worker: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	level, _ := cmd.Flags().GetString("log-level")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	log.Init(log.Config{Level: log.Level(level), JSONOutput: true})
	logger := log.WithComponent("loom-worker")

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error().Err(err).Msg("metrics server exited")
			}
		}()
		logger.Info().Str("addr", metricsAddr).Msg("serving metrics and health checks")
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("loom-worker: dialing host at %s: %w", addr, err)
	}
	defer conn.Close()

	logger.Info().Str("addr", addr).Msg("connected to host")

	registry := schema.NewRegistry()
	if err := manager.Serve(conn, registry); err != nil {
		return fmt.Errorf("loom-worker: %w", err)
	}

	logger.Info().Msg("host closed the worker")
	return nil
}
