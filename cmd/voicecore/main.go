// Command voicecore runs the duplex voice session service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/paraguayconcierge/voicecore/internal/app"
	"github.com/paraguayconcierge/voicecore/internal/config"
	"github.com/paraguayconcierge/voicecore/internal/observe"
	"github.com/paraguayconcierge/voicecore/internal/resilience"
	"github.com/paraguayconcierge/voicecore/pkg/device/portaudio"
	"github.com/paraguayconcierge/voicecore/pkg/transport"
	"github.com/paraguayconcierge/voicecore/pkg/transport/geminilive"
	"github.com/paraguayconcierge/voicecore/pkg/transport/mock"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicecore: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicecore: %v\n", err)
		}
		return 1
	}

	// The level var lets the config watcher adjust verbosity at runtime.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("voicecore starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"transport", cfg.Transport.Name,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voicecore",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Audio devices ─────────────────────────────────────────────────────────
	host, err := portaudio.NewHost(portaudio.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise audio devices", "err", err)
		return 1
	}
	defer func() {
		if err := host.Close(); err != nil {
			slog.Warn("audio host close error", "err", err)
		}
	}()

	// ── Transport ─────────────────────────────────────────────────────────────
	dialer, err := buildDialer(cfg)
	if err != nil {
		slog.Error("failed to build transport", "err", err)
		return 1
	}

	application := app.New(cfg, dialer, host, app.WithLogger(logger))

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.RestartRequired {
			slog.Warn("config change requires a restart to take effect")
			return
		}
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.SessionDefaultsChanged {
			application.Manager().UpdateConfig(new)
			slog.Info("session defaults updated")
		}
	})
	if err != nil {
		slog.Error("failed to watch config file", "err", err)
		return 1
	}
	defer watcher.Stop()

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// buildDialer constructs the backend dialer named in the config.
func buildDialer(cfg *config.Config) (transport.Dialer, error) {
	switch cfg.Transport.Name {
	case config.TransportGeminiLive, "":
		var opts []geminilive.Option
		if cfg.Transport.Model != "" {
			opts = append(opts, geminilive.WithModel(cfg.Transport.Model))
		}
		if cfg.Transport.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(cfg.Transport.BaseURL))
		}
		return resilience.NewDialer(geminilive.New(cfg.Transport.APIKey, opts...)), nil

	case config.TransportMock:
		// Loopback transport for smoke testing without an API key.
		return &mock.Dialer{Conn: mock.NewConn()}, nil

	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport.Name)
	}
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
