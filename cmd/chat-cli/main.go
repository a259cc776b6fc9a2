// cmd/chat-cli — 终端聊天客户端入口。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mathchat/go-chat-v2/pkg/logger"
)

var (
	serverURL string
	useWS     bool
	devMode   bool
)

var rootCmd = &cobra.Command{
	Use:   "chat-cli",
	Short: "Terminal client for the chatd session service",
	Long: `Terminal chat client. Creates a session on the chatd service, opens its
event stream (SSE by default, WebSocket with --ws) and folds the pushed
events into a local transcript.

Commands inside the REPL:
  /reset           clear the session on both ends and reconnect
  /export <file>   write the transcript as HTML
  /exit            quit`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return runChat(ctx)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:9000", "chatd base URL")
	rootCmd.Flags().BoolVar(&useWS, "ws", false, "use WebSocket transport instead of SSE")
	rootCmd.Flags().BoolVar(&devMode, "dev", false, "development logging (text format with source locations)")
}

func runChat(ctx context.Context) error {
	env := "production"
	if devMode {
		env = "development"
	}
	logger.Init(env)

	client := newAPIClient(strings.TrimRight(serverURL, "/"))
	sessionID, err := client.createSession(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("session %s\n", sessionID)

	a := newApp(client, sessionID, useWS, os.Stdout)
	if err := a.openChannel(ctx); err != nil {
		return err
	}
	a.runREPL(ctx, os.Stdin)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
