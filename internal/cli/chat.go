package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the companion",
	Long: `Start an interactive session. Each line is one turn through the cognitive
pipeline. Type 'quit' or 'exit' to leave.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().Bool("trace", false, "print branch, posture and timing after each reply")
}

func runChat(cmd *cobra.Command, _ []string) error {
	showTrace, _ := cmd.Flags().GetBool("trace")

	r, err := loadRunner()
	if err != nil {
		return err
	}
	defer r.Close()
	if err := r.Connect(); err != nil {
		return err
	}
	return chatLoop(cmd.Context(), r, cmd.InOrStdin(), cmd.OutOrStdout(), showTrace)
}

// #region chat-loop
func chatLoop(ctx context.Context, r *Runner, in io.Reader, out io.Writer, showTrace bool) error {
	if r.StartSession(time.Now()) {
		fmt.Fprintln(out, "It's been a while.")
	}
	p := r.Pipeline()

	fmt.Fprintln(out, "Companion ready.")
	fmt.Fprintf(out, "  Data: %s | Codec: %s\n", r.cfg.Data.Dir, r.cfg.Codec.Address)
	fmt.Fprintln(out, "Type a message (or 'quit' to exit):")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		if prompt == "quit" || prompt == "exit" {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		trace := p.Run(ctx, prompt)
		fmt.Fprintf(out, "\n%s\n\n", trace.FinalText)
		if showTrace {
			fmt.Fprintf(out, "[%s] branch=%s posture=%s total=%s\n",
				shortID(trace.TurnID), trace.Branch, trace.Posture, trace.Timings["total"].Round(time.Millisecond))
		}
	}
	return scanner.Err()
}

// #endregion chat-loop
