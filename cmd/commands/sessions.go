package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/dohr-michael/echovision/internal/images"
	"github.com/dohr-michael/echovision/internal/sessions"
)

// NewSessionsCommand returns the sessions subcommand.
func NewSessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Inspect stored conversation snapshots",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List stored sessions",
				Action: runSessionsList,
			},
			{
				Name:      "show",
				Usage:     "Show the turns of a session",
				ArgsUsage: "<session_id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: text, yaml or json",
						Value:   "text",
					},
				},
				Action: runSessionsShow,
			},
			{
				Name:      "clear",
				Usage:     "Delete a stored session and its archived images",
				ArgsUsage: "<session_id>",
				Action:    runSessionsClear,
			},
		},
		DefaultCommand: "list",
	}
}

func openStore(ctx context.Context, cmd *cli.Command) (sessions.SnapshotStore, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	store, err := sessions.OpenStore(ctx, cfg.Sessions)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	if store == nil {
		return nil, nil, fmt.Errorf("sessions driver %q keeps nothing on disk", cfg.Sessions.Driver)
	}
	return store, func() { store.Close() }, nil
}

func runSessionsList(ctx context.Context, cmd *cli.Command) error {
	store, closeStore, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	list, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	out := cmd.Root().Writer
	if len(list) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTURNS\tTOKENS\tSAVED")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n",
			s.SessionID,
			s.MessageCount,
			s.TotalTokens,
			s.SavedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func runSessionsShow(ctx context.Context, cmd *cli.Command) error {
	sessionID := cmd.Args().First()
	if sessionID == "" {
		return fmt.Errorf("usage: echovision sessions show <session_id>")
	}

	store, closeStore, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	snap, err := store.Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if snap == nil {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return printSnapshot(cmd.Root().Writer, snap, cmd.String("format"))
}

func printSnapshot(w io.Writer, snap *sessions.Snapshot, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(snapshotView(snap))
	case "text", "":
		if len(snap.Turns) == 0 {
			fmt.Fprintln(w, "No messages in this session.")
			return nil
		}
		for _, t := range snap.Turns {
			ts := t.Timestamp.Local().Format("15:04:05")
			fmt.Fprintf(w, "[%s] user: %s\n", ts, t.User)
			fmt.Fprintf(w, "[%s] assistant: %s\n", ts, t.Assistant)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q (want text, yaml or json)", format)
	}
}

// snapshotView mirrors the JSON field names for YAML output.
func snapshotView(snap *sessions.Snapshot) map[string]any {
	turns := make([]map[string]any, 0, len(snap.Turns))
	for _, t := range snap.Turns {
		turns = append(turns, map[string]any{
			"human":     t.User,
			"ai":        t.Assistant,
			"tokens":    t.Tokens,
			"timestamp": t.Timestamp,
		})
	}
	return map[string]any{
		"session_id":    snap.SessionID,
		"messages":      turns,
		"total_tokens":  snap.TotalTokens,
		"message_count": snap.MessageCount,
		"saved_at":      snap.SavedAt,
		"summary":       snap.Summary,
	}
}

func runSessionsClear(ctx context.Context, cmd *cli.Command) error {
	sessionID := cmd.Args().First()
	if sessionID == "" {
		return fmt.Errorf("usage: echovision sessions clear <session_id>")
	}
	if err := sessions.ValidateID(sessionID); err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := images.NewArchive(cfg.Images.ArchiveDir).Remove(sessionID); err != nil {
		return fmt.Errorf("remove archived images: %w", err)
	}
	fmt.Fprintf(cmd.Root().Writer, "Session %s cleared\n", sessionID)
	return nil
}
