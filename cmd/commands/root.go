package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/echovision/internal/config"
)

// Version is stamped at build time with -ldflags "-X ...commands.Version=...".
var Version = "1.0.0"

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:    "echovision",
		Usage:   "Multilingual chat assistant with on-demand image generation",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: text or json",
				Value: "text",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logger, err := newLogger(os.Stderr, cmd.String("log-format"), cmd.Bool("debug"))
			if err != nil {
				return ctx, err
			}
			slog.SetDefault(logger)
			return ctx, nil
		},
		Commands: []*cli.Command{
			NewServeCommand(),
			NewAskCommand(),
			NewSessionsCommand(),
			NewStatusCommand(),
			NewEventsCommand(),
			NewDetectCommand(),
		},
	}
}

func newLogger(w io.Writer, format string, debug bool) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
	}
	switch format {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}
}

// loadConfig reads the --config file, falling back to defaults when it does
// not exist.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// gatewayURL returns the --gateway flag, or the address derived from the config.
func gatewayURL(cmd *cli.Command, cfg *config.Config) string {
	if u := cmd.String("gateway"); u != "" {
		return u
	}
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Gateway.Port))
}

func gatewayFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "gateway",
		Aliases: []string{"g"},
		Usage:   "Gateway base URL (default from config)",
		Sources: cli.EnvVars("ECHOVISION_GATEWAY"),
	}
}
