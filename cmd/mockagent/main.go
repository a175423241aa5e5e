// Package main runs a scripted capability provider for local development.
//
// Each role answers the way the corresponding pipeline stage expects, so a
// full pipeline can run against six mockagent processes:
//
//	mockagent --role ingestion --port 9101 &
//	mockagent --role intent    --port 9102 &
//	...
//	supportd agents register http://localhost:9101
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/supportd/internal/a2a"
	"github.com/fyrsmithlabs/supportd/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		roleName string
		name     string
		host     string
		port     int
		delay    time.Duration
		failRate int
	)
	cmd := &cobra.Command{
		Use:   "mockagent",
		Short: "Run a scripted capability provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, ok := roles[roleName]
			if !ok {
				return fmt.Errorf("unknown role %q (available: %s)", roleName, strings.Join(roleNames(), ", "))
			}
			if name == "" {
				name = r.name
			}

			logCfg := logging.NewDefaultConfig()
			logCfg.Format = "console"
			logger, err := logging.NewLogger(logCfg, nil)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			addr := fmt.Sprintf("%s:%d", host, port)
			card := a2a.AgentCard{
				Name:        name,
				Description: r.description,
				URL:         "http://" + addr,
				Version:     "mock",
				Skills:      []a2a.Skill{{ID: roleName, Name: roleName, Description: r.description}},
			}
			exec := withFailures(withDelay(r.exec, delay), failRate)
			srv := a2a.NewServer(card, exec, logger)
			defer srv.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info(ctx, "mock provider listening", zap.String("name", name), zap.String("addr", addr))
				if err := srv.Echo().Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()
			select {
			case <-ctx.Done():
			case err := <-errCh:
				return err
			}
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Echo().Shutdown(sctx)
		},
	}
	cmd.Flags().StringVar(&roleName, "role", "echo", "provider role: "+strings.Join(roleNames(), ", "))
	cmd.Flags().StringVar(&name, "name", "", "provider name (defaults to the role's name)")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "listen host")
	cmd.Flags().IntVar(&port, "port", 9101, "listen port")
	cmd.Flags().DurationVar(&delay, "delay", 0, "simulated work time per task")
	cmd.Flags().IntVar(&failRate, "fail-every", 0, "fail every Nth task (0 never fails)")
	return cmd
}

func roleNames() []string {
	names := make([]string, 0, len(roles))
	for n := range roles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
