package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/echovision/clients/api"
)

// NewAskCommand returns the ask subcommand.
func NewAskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Send a message to the gateway and print the reply",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			gatewayFlag(),
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Session ID to continue (empty = new session)",
			},
			&cli.StringFlag{
				Name:    "image-out",
				Aliases: []string{"o"},
				Usage:   "Write the generated image to this PNG file",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Overall request timeout",
				Value: 6 * time.Minute,
			},
		},
		Action: runAsk,
	}
}

func runAsk(ctx context.Context, cmd *cli.Command) error {
	message := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("usage: echovision ask <message>")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	client := api.New(gatewayURL(cmd, cfg))
	reply, err := client.Chat(ctx, cmd.String("session"), message)
	if err != nil {
		if api.IsRetryable(err) {
			return fmt.Errorf("%w (retry later)", err)
		}
		return err
	}

	if cmd.String("session") == "" {
		fmt.Fprintf(os.Stderr, "session: %s\n", reply.SessionID)
	}
	fmt.Fprintln(cmd.Root().Writer, reply.Text)

	if len(reply.Image) == 0 {
		return nil
	}
	out := cmd.String("image-out")
	if out == "" {
		fmt.Fprintf(os.Stderr, "image: %d bytes received (use --image-out to save it)\n", len(reply.Image))
		return nil
	}
	if err := os.WriteFile(out, reply.Image, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	fmt.Fprintf(os.Stderr, "image: saved to %s\n", out)
	return nil
}
