package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"shopchat/pkg/bus"
	"shopchat/pkg/channel"
	"shopchat/pkg/channel/socketio"
	"shopchat/pkg/channel/telegram"
	"shopchat/pkg/config"
	"shopchat/pkg/dialogue"
	"shopchat/pkg/gateway"
	"shopchat/pkg/session"

	"github.com/spf13/cobra"
)

const (
	socketIOChannelName = "socketio"
	telegramChannelName = "telegram"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the channel gateway",
	Long:  "Serves the socket.io channel, and Telegram when enabled, forwarding every message to the dialogue manager.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, log, err := loadRuntime("cmd.gateway")
		if err != nil {
			fmt.Println(err)
			return
		}

		client, err := dialogue.New(cfg.Dialogue)
		if err != nil {
			log.Error("Dialogue client configuration invalid", "error", err)
			return
		}

		var registry session.Registry
		if cfg.Channels.SocketIO.Enabled && cfg.Channels.SocketIO.SessionPersistence {
			registry, err = session.NewRegistry(cfg.Sessions)
			if err != nil {
				log.Error("Session registry configuration invalid", "error", err)
				return
			}
			defer registry.Close()
		}

		events := bus.NewMessageBus()
		defer events.Close()

		adapters, err := enabledAdapters(cfg, registry, events, log)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := gateway.NewService(cfg, client, adapters, events, log)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return
		}

		log.Info("Gateway started", "channels", enabledChannelNames(adapters), "dialogue", cfg.Dialogue.BaseURL, "address", svc.Addr())
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Gateway runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func enabledAdapters(cfg *config.Config, registry session.Registry, events *bus.MessageBus, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 2)

	if cfg.Channels.SocketIO.Enabled {
		adapter, err := socketio.NewAdapter(cfg.Channels.SocketIO, registry, events, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", socketIOChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, events, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", telegramChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
