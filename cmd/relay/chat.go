package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ai-gateway/avatar-relay/internal/client"
	"github.com/ai-gateway/avatar-relay/internal/logger"
	"github.com/ai-gateway/avatar-relay/internal/provider"
)

var (
	chatURL     string
	chatWindow  int
	chatTimeout time.Duration
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with a running relay from the terminal",
	Long:  "Without arguments, chat reads one message per line from stdin until EOF or /exit. With arguments, it sends them as a single message.",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatURL, "url", "http://localhost:3000", "relay base URL")
	chatCmd.Flags().IntVar(&chatWindow, "history", 10, "number of prior turns sent with each message")
	chatCmd.Flags().DurationVar(&chatTimeout, "timeout", 0, "overall timeout per message (0 = none)")
}

func runChat(cmd *cobra.Command, args []string) error {
	logger.SetOutput(os.Stderr)
	logger.SetLevel("error")

	var opts []client.Option
	if chatTimeout > 0 {
		opts = append(opts, client.WithTimeout(chatTimeout))
	}
	c := client.New(chatURL, opts...)

	if len(args) > 0 {
		in := strings.NewReader(strings.Join(args, " ") + "\n")
		return chatLoop(cmd.Context(), c, in, cmd.OutOrStdout(), chatWindow, false)
	}
	return chatLoop(cmd.Context(), c, cmd.InOrStdin(), cmd.OutOrStdout(), chatWindow, true)
}

type streamer interface {
	ProcessQueryStream(ctx context.Context, message string, history []provider.Turn) <-chan string
}

// chatLoop sends each input line as a turn and prints the reply as it
// streams in. The transcript stays local; only its last window turns are
// sent along.
func chatLoop(ctx context.Context, s streamer, in io.Reader, out io.Writer, window int, interactive bool) error {
	var transcript []provider.Turn
	sc := bufio.NewScanner(in)
	if interactive {
		fmt.Fprint(out, "> ")
	}
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "/exit" || line == "/quit" {
			break
		}
		if line != "" {
			var reply strings.Builder
			for frag := range s.ProcessQueryStream(ctx, line, provider.Window(transcript, window)) {
				fmt.Fprint(out, frag)
				reply.WriteString(frag)
			}
			fmt.Fprintln(out)
			transcript = append(transcript,
				provider.Turn{Role: provider.RoleUser, Content: line},
				provider.Turn{Role: provider.RoleAssistant, Content: reply.String()},
			)
		}
		if interactive {
			fmt.Fprint(out, "> ")
		}
	}
	return sc.Err()
}
