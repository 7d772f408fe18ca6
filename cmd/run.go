package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"voice-session/internal/attributes"
	"voice-session/internal/audio/capture"
	audioconfig "voice-session/internal/audio/config"
	"voice-session/internal/audio/devices"
	"voice-session/internal/audio/playback"
	"voice-session/internal/controller"
	"voice-session/internal/credentials"
	"voice-session/internal/metrics"
	"voice-session/internal/rtc"
	"voice-session/internal/session"
	"voice-session/pkg/connection"
	"voice-session/pkg/interface/desktop"
	"voice-session/pkg/logger"
	"voice-session/pkg/web"
)

const renderTick = 50 * time.Millisecond

var noConnect bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Join the room and start talking",
	RunE:  runSession,
}

func init() {
	runCmd.Flags().BoolVar(&noConnect, "no-connect", false, "start disconnected and wait for the connect command")
}

func runSession(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	backend, err := devices.NewMalgoBackend()
	if err != nil {
		return err
	}
	defer backend.Close()

	regOpts := []devices.Option{devices.WithMetrics(m), devices.WithLogger(logger.For("devices"))}
	if w, err := devices.NewFSWatcher(cfg.HotplugDir); err != nil {
		log.Warn().Err(err).Str("dir", cfg.HotplugDir).Msg("Hot-plug notifications disabled")
	} else {
		regOpts = append(regOpts, devices.WithWatcher(w))
	}
	registry := devices.NewRegistry(ctx, backend, regOpts...)

	transport := rtc.NewTransport(
		rtc.WithAudioConfig(audioconfig.NewOpusConfig()),
		rtc.WithSinkRegistry(registry),
		rtc.WithPlayback(func(id string, c audioconfig.AudioConfig) (rtc.PlaybackSink, error) {
			pb, err := playback.NewMalgoPlayback(backend.Context(), id, c, backend.Resolve)
			if err != nil {
				return nil, err
			}
			return pb, nil
		}),
		rtc.WithCapture(func(c audioconfig.AudioConfig) (rtc.Capture, error) {
			mc, err := capture.NewMalgoCapture(backend.Context(), c)
			if err != nil {
				return nil, err
			}
			return mc, nil
		}),
		rtc.WithMetrics(m),
		rtc.WithLogger(logger.For("rtc")),
	)

	fetcher := credentials.NewFetcher(cfg.LiveKitURL, cfg.TokenEndpoint)
	conn := session.NewConnection(transport, fetcher,
		session.WithMetrics(m),
		session.WithLogger(logger.For("session")))
	defer conn.Disconnect()

	attrs := attributes.NewSync(conn,
		attributes.WithMetrics(m),
		attributes.WithLogger(logger.For("attributes")))
	ctrl := controller.New(conn, attrs, registry,
		controller.WithBands(cfg.AgentBands, cfg.MicBands),
		controller.WithLogger(logger.For("controller")))

	ui, err := desktop.NewDesktopInterface(ctrl, cmd.OutOrStdout(), renderTick)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return registry.Run(gctx) })
	g.Go(func() error { return ctrl.Run(gctx) })

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.WebAddr != "" {
		wh := connection.NewWebsocketHandler(ctrl, renderTick)
		g.Go(func() error { return web.StartWebInterface(gctx, cfg.WebAddr, wh) })
	}

	if !noConnect {
		g.Go(func() error {
			if err := conn.Connect(gctx); err != nil {
				log.Error().Err(err).Msg("Connection failed")
			}
			return nil
		})
	}

	g.Go(func() error {
		defer stop()
		return ui.StartDesktopInterface(gctx, cmd.InOrStdin())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
