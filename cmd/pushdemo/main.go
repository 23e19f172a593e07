package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"pushscheduler/internal/config"
	"pushscheduler/internal/localnotify"
	"pushscheduler/internal/pushclient"
	"pushscheduler/internal/scheduling"
	"pushscheduler/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lmittmann/tint"
)

// backgroundGrace keeps the process alive a little past the fire time so a late push
// still reaches the desktop.
const backgroundGrace = 15 * time.Second

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, closeLog, err := newFileLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bridge := ui.NewBridge()
	gateway, err := localnotify.Open(localnotify.Options{
		StatePath: cfg.DeviceState,
		Prompter:  bridge,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = gateway.CancelAll(context.Background()) }()

	ctrl := &scheduling.Controller{
		Local:       gateway,
		Alerts:      bridge,
		Logger:      logger,
		CallTimeout: cfg.CallTimeout,
		OnChange:    bridge.StateChanged,
	}

	svc, err := connectMessaging(ctx, cfg, logger)
	if err != nil {
		logger.Warn("remote messaging unavailable, local notifications only", "err", err)
	} else {
		defer func() { _ = svc.Close() }()
		ctrl.Remote = svc
		ctrl.InstallBackgroundHandler(ctx)
		svc.SetForeground(true)
	}

	screen := ui.NewScreen(ctx, ctrl, nil)
	p := tea.NewProgram(screen, tea.WithAltScreen(), tea.WithContext(ctx))
	bridge.Attach(p)
	_, runErr := p.Run()
	bridge.Close()
	screen.Close()
	if svc != nil {
		svc.SetForeground(false)
	}
	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("run screen: %w", runErr)
	}

	st := ctrl.State()
	if !st.Scheduled || ctx.Err() != nil {
		return nil
	}
	return runInBackground(ctx, logger, st)
}

// runInBackground keeps timers and the relay alive until the notification window has
// passed or a signal arrives.
func runInBackground(ctx context.Context, logger *slog.Logger, st scheduling.State) error {
	until := time.Until(st.FireAt.Add(backgroundGrace))
	if until <= 0 {
		return nil
	}
	fmt.Printf("Notification scheduled (%s). Running in the background until %s; press ctrl+c to stop.\n",
		st.Path, st.FireAt.Local().Format(time.Kitchen))
	logger.Info("background mode", "path", st.Path, "fire_at", st.FireAt)

	timer := time.NewTimer(until)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	logger.Info("background mode finished")
	return nil
}

func connectMessaging(ctx context.Context, cfg config.Config, logger *slog.Logger) (*pushclient.Service, error) {
	relay := pushclient.NewRelayClient(pushclient.RelayURL(cfg.BackendURL), logger)
	dialCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()
	if err := relay.Connect(dialCtx, ""); err != nil {
		return nil, err
	}
	return &pushclient.Service{
		Backend:  pushclient.NewBackendClient(cfg.BackendURL, nil),
		Relay:    relay,
		Platform: "desktop",
		UserID:   cfg.UserID,
	}, nil
}

// newFileLogger writes to cfg.ClientLog since the terminal belongs to the screen.
func newFileLogger(cfg config.Config) (*slog.Logger, func(), error) {
	if err := os.MkdirAll(filepath.Dir(cfg.ClientLog), 0o700); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.ClientLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log: %w", err)
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(tint.NewHandler(f, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    true,
	}))
	return logger, func() { _ = f.Close() }, nil
}
