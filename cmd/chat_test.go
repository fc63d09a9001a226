package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"reflect"
	"strings"
	"testing"

	"shopchat/pkg/dialogue"
)

func TestIsExitCommand(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "exit", want: true},
		{input: " quit ", want: true},
		{input: ":q", want: true},
		{input: "EXIT", want: true},
		{input: "hello", want: false},
		{input: "quit now", want: false},
	}

	for _, tt := range tests {
		if got := isExitCommand(tt.input); got != tt.want {
			t.Fatalf("isExitCommand(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestReplyLines(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantOut []string
	}{
		{name: "single line", input: "hello", wantOut: []string{"hello"}},
		{name: "multi line", input: "one\ntwo", wantOut: []string{"one", "two"}},
		{name: "trim outer whitespace", input: "  one\ntwo  ", wantOut: []string{"one", "two"}},
		{name: "empty input", input: "   ", wantOut: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := replyLines(tt.input)
			if !reflect.DeepEqual(got, tt.wantOut) {
				t.Fatalf("replyLines(%q) = %#v, want %#v", tt.input, got, tt.wantOut)
			}
		})
	}
}

func TestResolvePrompt(t *testing.T) {
	original := promptText
	t.Cleanup(func() {
		promptText = original
	})

	promptText = " from-flag "
	if got := resolvePrompt([]string{"from", "args"}); got != "from-flag" {
		t.Fatalf("resolvePrompt with flag = %q, want %q", got, "from-flag")
	}

	promptText = ""
	if got := resolvePrompt([]string{"hello", "world"}); got != "hello world" {
		t.Fatalf("resolvePrompt with args = %q, want %q", got, "hello world")
	}

	if got := resolvePrompt(nil); got != "" {
		t.Fatalf("resolvePrompt without input = %q, want empty", got)
	}
}

func TestResolveSender(t *testing.T) {
	original := senderID
	t.Cleanup(func() {
		senderID = original
	})

	senderID = " shopper-1 "
	if got := resolveSender(); got != "shopper-1" {
		t.Fatalf("resolveSender with flag = %q, want shopper-1", got)
	}

	senderID = ""
	first, second := resolveSender(), resolveSender()
	if !strings.HasPrefix(first, "cli-") || len(first) != len("cli-")+12 {
		t.Fatalf("resolveSender = %q, want cli- prefix and 12 hex chars", first)
	}
	if first == second {
		t.Fatalf("resolveSender returned %q twice", first)
	}
}

func TestPrintReplies(t *testing.T) {
	output := captureStdout(t, func() {
		printReplies([]dialogue.BotMessage{{Text: "first\nsecond"}, {Image: "https://example.com/a.png"}})
	})

	if output != "🛍 first\n🛍 second\n🛍 image: https://example.com/a.png\n\n" {
		t.Fatalf("printReplies output = %q", output)
	}

	emptyOutput := captureStdout(t, func() {
		printReplies([]dialogue.BotMessage{{Text: "   "}})
	})
	if emptyOutput != "" {
		t.Fatalf("expected no output for empty reply, got %q", emptyOutput)
	}
}

func TestRunSinglePrompt(t *testing.T) {
	var got string
	send := func(_ context.Context, text string) ([]dialogue.BotMessage, error) {
		got = text
		return []dialogue.BotMessage{{Text: "pong"}}, nil
	}

	output := captureStdout(t, func() {
		runSinglePrompt(context.Background(), send, "ping")
	})
	if got != "ping" || output != "🛍 pong\n\n" {
		t.Fatalf("sent %q, output %q", got, output)
	}

	failing := func(context.Context, string) ([]dialogue.BotMessage, error) {
		return nil, errors.New("dialogue down")
	}
	output = captureStdout(t, func() {
		runSinglePrompt(context.Background(), failing, "ping")
	})
	if output != "message failed: dialogue down\n" {
		t.Fatalf("failure output = %q", output)
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	original := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("create pipe: %v", err)
	}

	os.Stdout = w

	outCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		var builder strings.Builder
		_, copyErr := io.Copy(&builder, r)
		if copyErr != nil {
			errCh <- copyErr
			return
		}
		outCh <- builder.String()
	}()

	fn()

	_ = w.Close()
	os.Stdout = original

	select {
	case copyErr := <-errCh:
		_ = r.Close()
		t.Fatalf("read captured stdout: %v", copyErr)
	case output := <-outCh:
		_ = r.Close()
		return output
	}

	return ""
}
