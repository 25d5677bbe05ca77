package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/echovision/internal/language"
	"github.com/dohr-michael/echovision/internal/prompt"
	"github.com/dohr-michael/echovision/internal/router"
)

// NewDetectCommand returns the detect subcommand.
func NewDetectCommand() *cli.Command {
	return &cli.Command{
		Name:      "detect",
		Usage:     "Run language detection and image-intent classification offline",
		ArgsUsage: "<text>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "prompt",
				Usage: "Also print the prompt that would be sent to the text model",
			},
			&cli.StringFlag{
				Name:  "history",
				Usage: "Conversation context to include in the prompt preview",
			},
			&cli.StringFlag{
				Name:  "reply",
				Usage: "A raw model reply to route as if it answered <text>",
			},
		},
		Action: runDetect,
	}
}

func runDetect(_ context.Context, cmd *cli.Command) error {
	text := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("usage: echovision detect <text>")
	}
	out := cmd.Root().Writer

	lang := language.NewDetector(nil).Detect(text)
	classifier := language.NewClassifier()

	fmt.Fprintf(out, "language:    %s (%s)\n", lang, language.Name(lang))
	fmt.Fprintf(out, "wants_image: %t\n", classifier.WantsImage(text, lang))

	if reply := cmd.String("reply"); reply != "" {
		res := router.New(classifier).Route(reply, text)
		fmt.Fprintf(out, "text:        %s\n", res.Text)
		switch {
		case res.WantsImage():
			fmt.Fprintf(out, "image:       %s\n", res.ImagePrompt)
		case res.Suppressed != router.NotSuppressed:
			fmt.Fprintf(out, "image:       suppressed (%s)\n", res.Suppressed)
		default:
			fmt.Fprintln(out, "image:       none")
		}
	}

	if cmd.Bool("prompt") {
		fmt.Fprintln(out, "prompt:")
		fmt.Fprintln(out, prompt.NewComposer().Compose(text, cmd.String("history"), lang))
	}
	return nil
}
