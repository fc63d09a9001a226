package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"shopchat/pkg/dialogue"
	"shopchat/pkg/ui/chat"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	promptText string
	senderID   string
	plainChat  bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Send a message or start an interactive chat with the shop assistant",
	Long:  "Talks to the dialogue manager over its REST webhook, either once for a prompt or interactively.",
	Run: func(cmd *cobra.Command, args []string) {
		prompt := resolvePrompt(args)

		cfg, _, err := loadRuntime("cmd.chat")
		if err != nil {
			fmt.Println(err)
			return
		}

		client, err := dialogue.New(cfg.Dialogue)
		if err != nil {
			fmt.Printf("failed to initialize dialogue client: %v\n", err)
			return
		}

		ctx := context.Background()
		if err := client.Health(ctx); err != nil {
			fmt.Printf("dialogue manager health check failed: %v\n", err)
			return
		}

		sender := resolveSender()
		send := func(ctx context.Context, text string) ([]dialogue.BotMessage, error) {
			return client.Send(ctx, sender, text, nil)
		}

		if plainChat {
			if prompt != "" {
				runSinglePrompt(ctx, send, prompt)
				return
			}
			runInteractive(ctx, send)
			return
		}

		info := chat.Info{DialogueURL: cfg.Dialogue.BaseURL, SenderID: sender}
		if prompt != "" {
			err = chat.RunOneShot(ctx, send, prompt, info)
		} else {
			err = chat.RunInteractive(ctx, send, info)
		}
		if err != nil {
			fmt.Printf("chat failed: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&promptText, "prompt", "p", "", "prompt text to send")
	chatCmd.Flags().StringVarP(&senderID, "sender", "s", "", "conversation id sent to the dialogue manager (random when empty)")
	chatCmd.Flags().BoolVar(&plainChat, "plain", false, "print replies as plain lines instead of the terminal UI")
}

func resolvePrompt(args []string) string {
	if value := strings.TrimSpace(promptText); value != "" {
		return value
	}

	if len(args) == 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

func resolveSender() string {
	if value := strings.TrimSpace(senderID); value != "" {
		return value
	}

	return "cli-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func runSinglePrompt(ctx context.Context, send chat.SendFunc, prompt string) {
	replies, err := send(ctx, prompt)
	if err != nil {
		fmt.Printf("message failed: %v\n", err)
		return
	}

	printReplies(replies)
}

func runInteractive(ctx context.Context, send chat.SendFunc) {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				fmt.Printf("input error: %v\n", err)
			}
			return
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if isExitCommand(text) {
			return
		}

		replies, err := send(ctx, text)
		if err != nil {
			fmt.Printf("message failed: %v\n", err)
			continue
		}

		printReplies(replies)
	}
}

func printReplies(replies []dialogue.BotMessage) {
	printed := false
	for _, reply := range replies {
		for _, line := range replyLines(chat.RenderReply(reply)) {
			fmt.Printf("🛍 %s\n", line)
			printed = true
		}
	}
	if printed {
		fmt.Println()
	}
}

func replyLines(message string) []string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "\n")
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", ":q":
		return true
	default:
		return false
	}
}
