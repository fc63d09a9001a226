package cmd

import (
	"context"
	"testing"

	channelpkg "shopchat/pkg/channel"
	"shopchat/pkg/config"
	"shopchat/pkg/session"
)

type testAdapter struct{ name string }

func (a testAdapter) Name() string { return a.name }

func (a testAdapter) Run(_ context.Context, _ channelpkg.Handler) error { return nil }

func TestEnabledAdaptersRequiresAtLeastOneChannel(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	if _, err := enabledAdapters(cfg, nil, nil, nil); err == nil {
		t.Fatal("expected error when no channels are enabled")
	}
}

func TestEnabledAdaptersBuildsConfiguredChannels(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Channels.Telegram = config.TelegramConfig{Enabled: true, Token: "123:abc"}

	adapters, err := enabledAdapters(cfg, nil, nil, nil)
	if err != nil {
		t.Fatalf("enabledAdapters error: %v", err)
	}
	if got := enabledChannelNames(adapters); got != "socketio,telegram" {
		t.Fatalf("channels = %q, want socketio,telegram", got)
	}
}

func TestEnabledAdaptersRejectsInvalidChannels(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Channels.SocketIO.SessionPersistence = true
	if _, err := enabledAdapters(cfg, nil, nil, nil); err == nil {
		t.Fatal("expected error for session persistence without registry")
	}
	if _, err := enabledAdapters(cfg, session.NewMemoryRegistry(), nil, nil); err != nil {
		t.Fatalf("enabledAdapters with registry error: %v", err)
	}

	cfg = config.DefaultConfig()
	cfg.Channels.Telegram.Enabled = true
	if _, err := enabledAdapters(cfg, nil, nil, nil); err == nil {
		t.Fatal("expected error for telegram without token")
	}
}

func TestEnabledChannelNames(t *testing.T) {
	t.Parallel()

	adapters := []channelpkg.Adapter{testAdapter{name: "socketio"}, testAdapter{name: "telegram"}}
	if got := enabledChannelNames(adapters); got != "socketio,telegram" {
		t.Fatalf("enabledChannelNames = %q, want %q", got, "socketio,telegram")
	}
}
