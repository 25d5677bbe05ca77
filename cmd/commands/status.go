package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/dohr-michael/echovision/clients/api"
	"github.com/dohr-michael/echovision/internal/config"
	"github.com/dohr-michael/echovision/internal/heartbeat"
)

// statusReport is what status prints in yaml and json form.
type statusReport struct {
	Gateway   heartbeat.Status     `json:"gateway" yaml:"gateway"`
	Heartbeat *heartbeat.Heartbeat `json:"heartbeat,omitempty" yaml:"heartbeat,omitempty"`
	Health    *api.Health          `json:"health,omitempty" yaml:"health,omitempty"`
	Error     string               `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show EchoVision gateway status",
		Flags: []cli.Flag{
			gatewayFlag(),
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: text, yaml or json",
				Value:   "text",
			},
		},
		Action: runStatus,
	}
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	status, hb, err := heartbeat.Check(config.HeartbeatPath(), heartbeat.DefaultMaxAge)
	if err != nil {
		return fmt.Errorf("check heartbeat: %w", err)
	}
	report := statusReport{Gateway: status, Heartbeat: hb}

	if status != heartbeat.StatusDead {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		health, err := api.New(gatewayURL(cmd, cfg)).Health(hctx)
		if err != nil {
			report.Error = err.Error()
		} else {
			report.Health = health
		}
	}

	return printStatus(cmd.Root().Writer, report, cmd.String("format"))
}

func printStatus(w io.Writer, r statusReport, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		return yaml.NewEncoder(w).Encode(r)
	case "text", "":
	default:
		return fmt.Errorf("unknown format %q (want text, yaml or json)", format)
	}

	switch r.Gateway {
	case heartbeat.StatusAlive:
		fmt.Fprintf(w, "Gateway: ALIVE (PID %d, %s, uptime %s, version %s)\n",
			r.Heartbeat.PID, r.Heartbeat.Addr, r.Heartbeat.Uptime, r.Heartbeat.Version)
		fmt.Fprintf(w, "Sessions: %d active, %d turns\n", r.Heartbeat.ActiveSessions, r.Heartbeat.TotalTurns)
	case heartbeat.StatusStale:
		fmt.Fprintf(w, "Gateway: STALE (PID %d, last heartbeat %s ago)\n",
			r.Heartbeat.PID, time.Since(r.Heartbeat.Timestamp).Truncate(time.Second))
	case heartbeat.StatusDead:
		fmt.Fprintln(w, "Gateway: NOT RUNNING")
		return nil
	}

	if r.Error != "" {
		fmt.Fprintf(w, "Health: unreachable (%s)\n", r.Error)
		return nil
	}
	h := r.Health
	fmt.Fprintf(w, "Text model: %s (%s)\n", h.TextModel, loadedLabel(h.TextModelLoaded, h.TextModelError))
	fmt.Fprintf(w, "Image model: %s on %s (%s)\n", h.ImageModel, h.Device, loadedLabel(h.ImageModelLoaded, h.ImageModelError))
	return nil
}

func loadedLabel(loaded bool, errMsg string) string {
	switch {
	case loaded:
		return "loaded"
	case errMsg != "":
		return "unavailable: " + errMsg
	default:
		return "unavailable"
	}
}
