package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", filepath.Base(path), err)
	}
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{
	  "gateway": {"host": "127.0.0.1", "port": 6000},
	  "channels": {"socketio": {"enabled": true, "session_persistence": true}},
	  "dialogue": {"base_url": "http://dm:5005"},
	  "catalog": {"path": "/data/shoes.csv", "row_limit": 0},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`)

	t.Setenv("SHOPCHAT_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format = %q, want %q", cfg.Logging.Format, "json")
	}
	if !cfg.Logging.AddSource {
		t.Fatal("logging.add_source = false, want true")
	}
	if cfg.Gateway.Port != 6000 {
		t.Fatalf("gateway.port = %d, want 6000", cfg.Gateway.Port)
	}
	if !cfg.Channels.SocketIO.SessionPersistence {
		t.Fatal("socketio.session_persistence = false, want true")
	}
	if cfg.Channels.SocketIO.UserMessageEvent != DefaultUserMessageEvent {
		t.Fatalf("socketio.user_message_evt = %q, want default", cfg.Channels.SocketIO.UserMessageEvent)
	}
	if cfg.Channels.SocketIO.Path != DefaultSocketIOPath {
		t.Fatalf("socketio.socketio_path = %q, want default", cfg.Channels.SocketIO.Path)
	}
	if cfg.Catalog.RowLimit != DefaultCatalogRowLimit {
		t.Fatalf("catalog.row_limit = %d, want %d", cfg.Catalog.RowLimit, DefaultCatalogRowLimit)
	}
	if cfg.Sessions.Driver != "memory" {
		t.Fatalf("sessions.driver = %q, want memory", cfg.Sessions.Driver)
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv("SHOPCHAT_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"gateway": {"port": 6000}, "catalog": {"row_limit": 10}}`)

	t.Setenv("SHOPCHAT_CONFIG", path)
	t.Setenv("SHOPCHAT_GATEWAY_PORT", "7000")
	t.Setenv("SHOPCHAT_CATALOG_ROW_LIMIT", "25")
	t.Setenv("SHOPCHAT_CHANNELS_SOCKETIO_BOT_MESSAGE_EVT", "bot_said")
	t.Setenv("SHOPCHAT_CHANNELS_TELEGRAM_ALLOW_FROM", " 1, ,2 ")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Gateway.Port != 7000 {
		t.Fatalf("gateway.port = %d, want 7000", cfg.Gateway.Port)
	}
	if cfg.Catalog.RowLimit != 25 {
		t.Fatalf("catalog.row_limit = %d, want 25", cfg.Catalog.RowLimit)
	}
	if cfg.Channels.SocketIO.BotMessageEvent != "bot_said" {
		t.Fatalf("socketio.bot_message_evt = %q, want bot_said", cfg.Channels.SocketIO.BotMessageEvent)
	}
	if got := cfg.Channels.Telegram.AllowFrom; len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("telegram.allow_from = %#v, want [1 2]", got)
	}
}

func TestLoadConfigCredentialsFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "credentials.yml"), `
rest:
socketChannel.SocketIOInput:
  user_message_evt: user_said
  session_persistence: true
`)
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"channels": {"socketio": {
	  "bot_message_evt": "inline_bot",
	  "namespace": "/inline",
	  "credentials_file": "credentials.yml"
	}}}`)

	t.Setenv("SHOPCHAT_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	sio := cfg.Channels.SocketIO
	if sio.UserMessageEvent != "user_said" {
		t.Fatalf("user_message_evt = %q, want user_said", sio.UserMessageEvent)
	}
	if sio.BotMessageEvent != DefaultBotMessageEvent {
		t.Fatalf("bot_message_evt = %q, want %q", sio.BotMessageEvent, DefaultBotMessageEvent)
	}
	if sio.Namespace != "" {
		t.Fatalf("namespace = %q, want empty", sio.Namespace)
	}
	if !sio.SessionPersistence {
		t.Fatal("session_persistence = false, want true")
	}
}

func TestParseCredentialsNullBlockUsesDefaults(t *testing.T) {
	creds, found, err := parseCredentials([]byte("socketio:\n"))
	if err != nil {
		t.Fatalf("parseCredentials error: %v", err)
	}
	if !found {
		t.Fatal("expected socketio block to be found")
	}

	cfg := SocketIOConfig{UserMessageEvent: "custom", SessionPersistence: true}
	applySocketIOCredentials(&cfg, creds)
	if cfg.UserMessageEvent != DefaultUserMessageEvent || cfg.SessionPersistence {
		t.Fatalf("cfg = %+v, want defaults", cfg)
	}
}

func TestParseCredentialsWithoutSocketBlock(t *testing.T) {
	_, found, err := parseCredentials([]byte("rest:\n"))
	if err != nil {
		t.Fatalf("parseCredentials error: %v", err)
	}
	if found {
		t.Fatal("expected no socketio block")
	}
}
