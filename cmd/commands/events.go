package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/coder/websocket"
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/echovision/clients/api"
	wsclient "github.com/dohr-michael/echovision/clients/ws"
	"github.com/dohr-michael/echovision/internal/events"
	wsprotocol "github.com/dohr-michael/echovision/internal/gateway/ws"
	"github.com/dohr-michael/echovision/internal/storage"
)

// NewEventsCommand returns the events subcommand.
func NewEventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Show recent gateway events, or follow them live",
		Flags: []cli.Flag{
			gatewayFlag(),
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Only show events of this session",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Number of past events to show",
				Value:   20,
			},
			&cli.BoolFlag{
				Name:  "follow",
				Usage: "Stream new events over WebSocket",
			},
			&cli.BoolFlag{
				Name:  "offline",
				Usage: "Read the event log on disk instead of asking the gateway",
			},
		},
		Action: runEvents,
	}
}

func runEvents(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.Root().Writer
	sessionID := cmd.String("session")
	limit := int(cmd.Int("limit"))

	var history []events.Event
	if cmd.Bool("offline") {
		history, err = storage.ReadLog(eventLogDir(cfg.Events.LogDir), sessionID, limit)
	} else {
		history, err = api.New(gatewayURL(cmd, cfg)).Events(ctx, sessionID, limit)
	}
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	for _, e := range history {
		printEvent(out, e.Timestamp, string(e.Type), e.SessionID, e.Payload)
	}

	if !cmd.Bool("follow") {
		return nil
	}
	return followEvents(ctx, out, gatewayURL(cmd, cfg), sessionID)
}

func followEvents(ctx context.Context, out io.Writer, baseURL, sessionID string) error {
	url, err := wsclient.EventsURL(baseURL, sessionID)
	if err != nil {
		return err
	}
	client, err := wsclient.Dial(ctx, url)
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer client.Close()

	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if frame.Type != wsprotocol.FrameTypeEvent {
			continue
		}
		var e events.Event
		if err := json.Unmarshal(frame.Payload, &e); err != nil {
			continue
		}
		printEvent(out, e.Timestamp, frame.Event, frame.SessionID, e.Payload)
	}
}

// eventLogDir is where serve's EventLogger writes.
func eventLogDir(logDir string) string {
	return filepath.Join(logDir, "_events")
}

func printEvent(w io.Writer, ts time.Time, typ, sessionID string, payload map[string]any) {
	if sessionID == "" {
		sessionID = "-"
	}
	data, _ := json.Marshal(payload)
	fmt.Fprintf(w, "%s  %-18s %s  %s\n", ts.Local().Format("15:04:05.000"), typ, sessionID, data)
}
