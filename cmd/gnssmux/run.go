package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gnssmux/internal/config"
	"gnssmux/internal/gps"
	"gnssmux/internal/logging"
	"gnssmux/internal/metrics"
	"gnssmux/internal/parser"
	"gnssmux/internal/udp"
	"gnssmux/internal/web"
)

func newRunCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Read the configured streams until interrupted",
		Long: `Open every stream listed in the config file, split it into messages and
keep per-stream statistics. When http.listen is set, /api/status,
/api/streams/NAME, /api/logs and /metrics are served.

SIGINT or SIGTERM stops all streams and logs a final summary.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(global.configFile)
			if err != nil {
				return fmt.Errorf("load config %s: %w", global.configFile, err)
			}
			if global.logLevel != "" {
				cfg.Log.Level = global.logLevel
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cfg, cmd.ErrOrStderr())
		},
	}
}

func runDaemon(ctx context.Context, cfg config.Config, stderr io.Writer) error {
	logger, closer, err := logging.New(cfg.Log, stderr)
	if err != nil {
		return err
	}
	defer closer.Close()
	logs := web.NewLogBuffer(2000)
	logger.AddHook(logs)
	log := logrus.NewEntry(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	services := make([]*gps.Service, 0, len(cfg.Streams))
	sources := make([]web.StreamSource, 0, len(cfg.Streams))
	var forwarders []*udp.Forwarder
	defer func() {
		for _, svc := range services {
			svc.Close()
		}
		for _, f := range forwarders {
			_ = f.Close()
		}
	}()

	for _, sc := range cfg.Streams {
		streamLog := log.WithField("stream", sc.Name)
		handlers := []parser.Handler{m.Handler(sc.Name)}
		for _, fc := range sc.Forward {
			f, err := newForwarder(fc, streamLog)
			if err != nil {
				return fmt.Errorf("stream %s: forward %s: %w", sc.Name, fc.Addr, err)
			}
			forwarders = append(forwarders, f)
			handlers = append(handlers, f)
		}

		svc := gps.New(gps.Config{
			Name:       sc.Name,
			Source:     sc.Source,
			Device:     sc.Device,
			Baud:       sc.Baud,
			Addr:       sc.Addr,
			Path:       sc.Path,
			Speed:      sc.Speed,
			Loop:       sc.Loop,
			Record:     sc.Record,
			BufferSize: cfg.Parser.BufferSize,
		}, log, handlers...)
		if err := svc.Start(ctx); err != nil {
			return err
		}
		services = append(services, svc)
		sources = append(sources, svc)
		m.RegisterStream(sc.Name, func() (bool, int64) {
			snap := svc.Snapshot()
			return snap.Connected, snap.BytesRead
		})
	}
	log.WithField("streams", len(services)).Info("gnssmux started")

	errCh := make(chan error, 1)
	if cfg.HTTP.Listen != "" {
		h := web.Handler(web.NewStatus(sources...), logs, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			log.WithField("listen", cfg.HTTP.Listen).Info("http enabled")
			errCh <- web.Serve(ctx, cfg.HTTP.Listen, h)
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info("shutting down")
	for _, svc := range services {
		svc.Close()
		logSummary(log, svc.Snapshot())
	}
	services = nil
	for _, f := range forwarders {
		log.WithFields(logrus.Fields{"forward": f.Dest(), "sent": f.Sent(), "errors": f.Errors()}).Info("forward summary")
	}
	return nil
}

func newForwarder(fc config.ForwardConfig, log *logrus.Entry) (*udp.Forwarder, error) {
	protocols := make([]parser.Protocol, 0, len(fc.Protocols))
	for _, name := range fc.Protocols {
		p, err := parser.ParseProtocol(name)
		if err != nil {
			return nil, err
		}
		protocols = append(protocols, p)
	}
	return udp.NewForwarder(fc.Addr, protocols, log)
}

func logSummary(log *logrus.Entry, snap gps.Snapshot) {
	log.WithFields(logrus.Fields{
		"stream":             snap.Name,
		"bytes":              snap.BytesRead,
		"messages":           snap.Stats.Messages,
		"checksum_errors":    snap.Stats.ChecksumErrors(),
		"invalid_events":     snap.Stats.InvalidEvents,
		"unattributed_bytes": snap.Stats.UnattributedBytes,
		"max_length":         snap.Stats.MaxLength,
	}).Info("stream summary")
}
