package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hubgate/internal/config"
	"hubgate/internal/hub"
	"hubgate/internal/router"
	"hubgate/internal/store"
	"hubgate/internal/store/sqlite"
	"hubgate/internal/transport"
	"hubgate/internal/utils"
)

const cleanupInterval = 10 * time.Minute

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		baseURL    string
		logLevel   string
		dbPath     string
		agentMode  string
	)

	cmd := &cobra.Command{
		Use:   "hubd",
		Short: "Serve a hub: a curated, permission-gated gateway over a set of agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := utils.NewLogger(logLevel)

			def, err := config.Load(configPath)
			if err != nil {
				return err
			}

			var st store.Store
			if dbPath != "" {
				st, err = sqlite.Open(dbPath)
				if err != nil {
					return fmt.Errorf("open store: %w", err)
				}
			} else {
				st = store.NewMemory()
			}

			var caller router.Caller
			switch agentMode {
			case "jsonrpc":
				caller = router.NewHTTPCaller(logger)
			case "a2a":
				caller = router.NewA2ACaller(logger)
			default:
				return fmt.Errorf("unknown agent transport %q (want jsonrpc or a2a)", agentMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			h := hub.New(def, logger, hub.Options{Store: st, Caller: caller})
			if err := h.Initialize(ctx); err != nil {
				return err
			}
			defer h.Stop()
			h.StartCleanup(cleanupInterval)

			if baseURL == "" {
				baseURL = "http://" + addr
			}
			srv := transport.NewHTTPTransport(h, addr, baseURL, logger)
			if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "hub.yaml", "hub definition file")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "public base URL (defaults to http://<addr>)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info)")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite database path (empty for in-memory state)")
	cmd.Flags().StringVar(&agentMode, "agent-transport", "jsonrpc", "agent call transport (jsonrpc or a2a)")

	return cmd
}
