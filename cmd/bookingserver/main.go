// Command bookingserver runs the facility-booking dispatcher described in
// spec.md §4.4 over UDP.
//
// Usage: bookingserver <port> <semantics> [p_req_loss] [p_rep_loss]
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iyzyman/bookingd/internal/booking"
	"github.com/iyzyman/bookingd/internal/config"
	"github.com/iyzyman/bookingd/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bookingserver <port> <semantics> [p_req_loss] [p_rep_loss]",
		Short: "Run the facility-booking RPC server",
		Long: `Run the facility-booking RPC server

semantics must be "at-least-once" or "at-most-once". p_req_loss and
p_rep_loss are optional datagram-loss probabilities in [0, 1]; a single
value applies to both directions.`,
		Args: cobra.RangeArgs(2, 4),
		RunE: runServer,
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	port, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", args[0], err)
	}
	semantics := config.Semantics(args[1])
	if !semantics.Valid() {
		return fmt.Errorf("unknown semantics %q: must be %q or %q", args[1], config.AtLeastOnce, config.AtMostOnce)
	}
	reqLoss, repLoss, err := config.LossProbabilities(args[2:])
	if err != nil {
		return err
	}

	env, err := config.LoadServerEnv(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := buildLogger(env.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck
	sugar := log.Sugar()

	facilities, err := config.LoadFacilities(env.FacilitiesFile)
	if err != nil {
		return fmt.Errorf("load facilities: %w", err)
	}
	if facilities == nil {
		facilities = booking.DefaultFacilities()
	}
	store := booking.NewStore(facilities)

	metrics, err := server.NewMetrics("bookingserver")
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on UDP %d: %w", port, err)
	}
	defer conn.Close()

	dispatcher := server.New(conn, store, semantics,
		server.WithLossProbabilities(reqLoss, repLoss),
		server.WithLogger(sugar),
		server.WithMetrics(metrics),
		server.WithHistoryCapacity(env.HistoryCacheCapacity),
	)

	sugar.Infow("listening",
		"addr", conn.LocalAddr(),
		"semantics", semantics,
		"facilities", facilities,
		"p_req_loss", reqLoss,
		"p_rep_loss", repLoss,
	)

	runErr := make(chan error, 1)
	go func() { runErr <- dispatcher.Run() }()

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
		sugar.Infow("shutting down", "metrics", metrics.Snapshot())
		return nil
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}
