package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const credentialsChannelKey = "socketio"

// socketIOCredentials is the socketio block of a dialogue-framework credentials.yml.
type socketIOCredentials struct {
	UserMessageEvent   *string `yaml:"user_message_evt"`
	BotMessageEvent    *string `yaml:"bot_message_evt"`
	Namespace          *string `yaml:"namespace"`
	SessionPersistence *bool   `yaml:"session_persistence"`
	Path               *string `yaml:"socketio_path"`
}

// applyCredentialsFile reads credentials.yml and replaces the socket.io channel options with its
// socketio block. Keys absent from the block fall back to the channel defaults, not to config.json.
func applyCredentialsFile(cfg *SocketIOConfig, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read credentials file: %w", err)
	}

	creds, found, err := parseCredentials(content)
	if err != nil {
		return fmt.Errorf("parse credentials file %s: %w", path, err)
	}
	if !found {
		return nil
	}

	applySocketIOCredentials(cfg, creds)
	return nil
}

// parseCredentials extracts the socket channel block. The block is matched by the plain
// channel name or by a custom-channel class path ending in "SocketIOInput".
func parseCredentials(content []byte) (*socketIOCredentials, bool, error) {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, false, err
	}

	for key, node := range doc {
		if key != credentialsChannelKey && !strings.HasSuffix(key, "SocketIOInput") {
			continue
		}

		creds := &socketIOCredentials{}
		if node.Kind == 0 || node.Tag == "!!null" {
			return creds, true, nil
		}
		if node.Kind != yaml.MappingNode {
			return nil, false, errors.New(key + " must be a mapping")
		}
		if err := node.Decode(creds); err != nil {
			return nil, false, err
		}
		return creds, true, nil
	}

	return nil, false, nil
}

// applySocketIOCredentials copies credential-style options onto cfg using the channel defaults
// for anything unset.
func applySocketIOCredentials(cfg *SocketIOConfig, creds *socketIOCredentials) {
	if cfg == nil {
		return
	}
	if creds == nil {
		creds = &socketIOCredentials{}
	}

	cfg.UserMessageEvent = stringOr(creds.UserMessageEvent, DefaultUserMessageEvent)
	cfg.BotMessageEvent = stringOr(creds.BotMessageEvent, DefaultBotMessageEvent)
	cfg.Namespace = stringOr(creds.Namespace, "")
	cfg.Path = stringOr(creds.Path, DefaultSocketIOPath)
	cfg.SessionPersistence = creds.SessionPersistence != nil && *creds.SessionPersistence
}

func stringOr(value *string, fallback string) string {
	if value == nil {
		return fallback
	}
	return *value
}
