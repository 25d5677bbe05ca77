package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/echovision/internal/chat"
	"github.com/dohr-michael/echovision/internal/config"
	"github.com/dohr-michael/echovision/internal/events"
	"github.com/dohr-michael/echovision/internal/gateway"
	"github.com/dohr-michael/echovision/internal/heartbeat"
	"github.com/dohr-michael/echovision/internal/images"
	"github.com/dohr-michael/echovision/internal/models"
	"github.com/dohr-michael/echovision/internal/sessions"
	"github.com/dohr-michael/echovision/internal/storage"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"gateway"},
		Usage:   "Start the EchoVision HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = int(cmd.Int("port"))
	}

	// Event bus, log and usage counters
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	eventLog := storage.NewEventLogger(eventLogDir(cfg.Events.LogDir), bus)
	defer eventLog.Close()

	usage := storage.NewUsageTracker(bus)
	defer usage.Close()

	// Session snapshots
	store, err := sessions.OpenStore(ctx, cfg.Sessions)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	idleTTL := cfg.Memory.IdleTTL.Duration()
	opts := []sessions.ManagerOption{
		sessions.WithIdleTTL(idleTTL),
		chat.SessionEvents(bus, idleTTL),
	}
	if store != nil {
		opts = append(opts, sessions.WithStore(store))
	}
	manager := sessions.NewManager(cfg.Memory.MaxTokens, opts...)
	if err := manager.StartSweeper(cfg.Memory.SweepSchedule); err != nil {
		return err
	}
	defer manager.Stop()

	// Text and image backends
	registry := models.NewRegistry(cfg.Models)
	completer, err := registry.Default(ctx)
	if err != nil {
		return fmt.Errorf("init default model: %w", err)
	}
	slog.Info("text model ready", "provider", registry.DefaultName(), "model", completer.Name())

	synth, err := images.New(cfg.Images)
	if err != nil {
		return fmt.Errorf("init image service: %w", err)
	}

	svc := chat.NewService(chat.Deps{
		Sessions:    manager,
		Completer:   completer,
		Synthesizer: synth,
		Archive:     images.NewArchive(cfg.Images.ArchiveDir),
		Bus:         bus,
	}, chat.ParamsFromConfig(cfg))

	// SIGHUP reloads .env and config; sampling and image parameters follow.
	reloader := config.NewReloader(cmd.String("config"), config.DotenvPath(), cfg)
	reloader.OnReload(func(next *config.Config) {
		svc.SetParams(chat.ParamsFromConfig(next))
	})
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloader.Watch(ctx, hup)

	server := gateway.NewServer(svc, bus, gateway.Options{
		Gateway: cfg.Gateway,
		Version: Version,
		Usage:   usage,
	})

	hb := heartbeat.NewWriter(config.HeartbeatPath(), server.Addr(), Version,
		heartbeat.WithGauges(func() (int, int) {
			st := svc.Stats()
			return st.ActiveSessions, st.TotalTurns
		}),
	)
	hb.Start()
	defer hb.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
