package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"shopchat/pkg/actions"
	"shopchat/pkg/catalog"

	"github.com/spf13/cobra"
)

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Run the action server",
	Long:  "Loads the product catalog and serves the custom actions the dialogue manager calls on its webhook.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, log, err := loadRuntime("cmd.actions")
		if err != nil {
			fmt.Println(err)
			return
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		products, err := catalog.Load(runCtx, cfg.Catalog)
		if err != nil {
			log.Error("Failed to load product catalog", "source", cfg.Catalog.Source, "error", err)
			stop()
			os.Exit(1)
		}
		log.Info("Product catalog loaded", "source", cfg.Catalog.Source, "products", products.Len())

		registry := actions.NewShopRegistry(products)
		server, err := actions.NewServer(cfg.Actions, registry, log)
		if err != nil {
			log.Error("Failed to initialize action server", "error", err)
			return
		}

		if err := server.Run(runCtx); err != nil {
			log.Error("Action server failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(actionsCmd)
}
