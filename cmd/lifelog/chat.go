package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var chatThreadID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Starts a REPL against a conversation thread. A new thread id is
generated unless --thread resumes an existing one. Type /quit to exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context(), chatThreadID)
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatThreadID, "thread", "", "thread id to resume")
}

// consoleSink streams model text to stdout as it arrives. Reset prints
// nothing visible since tool-call turns produce no user-facing text
// until the loop settles.
type consoleSink struct {
	wrote bool
}

func (s *consoleSink) Write(delta string) {
	fmt.Print(delta)
	s.wrote = true
}

func (s *consoleSink) Reset() {
	if s.wrote {
		fmt.Println()
	}
	s.wrote = false
}

func runChat(ctx context.Context, threadID string) error {
	if threadID == "" {
		threadID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Printf("lifelog chat (thread %s)\n", threadID)
	fmt.Println("Type your message, /quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/quit" || input == "/exit" {
			break
		}

		sink := &consoleSink{}
		st, err := a.engine.Run(ctx, input, threadID, sink)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
			continue
		}
		// The sink already printed the reply; fall back to the last
		// assistant message if streaming produced nothing.
		if !sink.wrote {
			if msg, ok := st.LatestAssistantMessage(); ok {
				fmt.Println(msg.Content)
			}
		} else {
			fmt.Println()
		}
	}
	return scanner.Err()
}
