// Command swarmd is the engine process: it parses the daemon flags,
// opens the swarm protocol's UDP socket, and runs the control channel,
// content gateway, and optional stats UI alongside the single engine
// event loop, mirroring daemon/main.go's listener-setup-then-Serve
// shape.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/quantarax/swarmd/internal/config"
	"github.com/quantarax/swarmd/internal/control"
	"github.com/quantarax/swarmd/internal/engine"
	"github.com/quantarax/swarmd/internal/observability"
	"github.com/quantarax/swarmd/internal/statslog"
)

// historyAdapter satisfies control.HistoryProvider over a *statslog.Log
// without internal/control importing internal/statslog directly.
type historyAdapter struct {
	log *statslog.Log
}

func (h historyAdapter) RecentSamples(swarmID string, limit int) ([]control.HistorySample, error) {
	samples, err := h.log.RecentSamples(swarmID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]control.HistorySample, len(samples))
	for i, s := range samples {
		out[i] = control.HistorySample{
			UpBytes:   s.UpBytes,
			DownBytes: s.DownBytes,
			SampledAt: s.SampledAt.Format(time.RFC3339),
		}
	}
	return out, nil
}

func main() {
	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "swarmd: %v\n", err)
		os.Exit(1)
	}

	log := observability.NewLogger("swarmd", "0.1.0", os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, "swarmd")
	if err != nil {
		log.Fatal(err, "swarmd: init tracing failed")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Error(err, "swarmd: tracing shutdown failed")
		}
	}()

	conn, err := net.ListenPacket("udp", cfg.ListenAddr)
	if err != nil {
		log.Fatal(err, "swarmd: udp listen failed")
	}
	log.Info(fmt.Sprintf("listening on %s", conn.LocalAddr()))

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		log.Fatal(err, "swarmd: create state dir failed")
	}
	stats, err := statslog.Open(filepath.Join(cfg.StateDir, "stats.db"))
	if err != nil {
		log.Fatal(err, "swarmd: open stats log failed")
	}
	defer stats.Close()

	e := engine.New(cfg, conn, log, stats)

	ctrlLn, err := net.Listen("tcp", cfg.ControlAddr)
	if err != nil {
		log.Fatal(err, "swarmd: control listen failed")
	}
	ctrlServer := control.NewServer(ctrlLn, e, e.Manager(), e.Bus(), log)
	e.AttachControlServer(ctrlServer)
	go func() {
		if err := ctrlServer.Serve(); err != nil {
			log.Error(err, "swarmd: control server stopped")
		}
	}()
	log.Info(fmt.Sprintf("control channel on %s", cfg.ControlAddr))

	gateway := control.NewGateway(e.Manager())
	gwServer := &http.Server{Addr: cfg.GatewayAddr, Handler: gateway}
	go func() {
		if err := gwServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "swarmd: gateway server stopped")
		}
	}()
	log.Info(fmt.Sprintf("content gateway on %s", cfg.GatewayAddr))

	var statsServer *http.Server
	if cfg.StatsAddr != "" {
		statsUI := control.NewStatsHandler(e.Manager(), e, e, historyAdapter{stats})
		mux := http.NewServeMux()
		mux.Handle("/metrics", e.Metrics().Handler())
		mux.Handle("/", statsUI)
		statsServer = &http.Server{Addr: cfg.StatsAddr, Handler: mux}
		go func() {
			if err := statsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error(err, "swarmd: stats server stopped")
			}
		}()
		log.Info(fmt.Sprintf("stats UI on %s", cfg.StatsAddr))
	}

	if cfg.ContentPath != "" {
		rawURL := fmt.Sprintf("tswift:///00?v=%s", cfg.ContentPath)
		root, err := e.StartSwarm(rawURL, cfg.DestDir)
		if err != nil {
			log.Error(err, "swarmd: initial swarm start failed")
		} else {
			fmt.Printf("Root hash: %x\n", root)
		}
	}

	if err := e.Run(ctx); err != nil {
		log.Error(err, "swarmd: engine loop exited with error")
	}

	_ = gwServer.Close()
	if statsServer != nil {
		_ = statsServer.Close()
	}
	log.Info("swarmd: shutdown complete")
}
