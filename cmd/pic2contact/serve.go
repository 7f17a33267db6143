package main

import (
	"github.com/spf13/cobra"

	appLog "pic2contact/internal/log"
	"pic2contact/internal/web"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kiosk web UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveListen != "" {
			cfg.Listen = serveListen
		}

		appLog.Info("pic2contact starting", "version", version)
		appLog.Info("effective config",
			"listen", cfg.Listen,
			"api_url", cfg.APIURL,
			"geolocation", cfg.Geolocation.Provider,
			"fake_camera", cfg.Camera.FakeDevice,
			"session_ttl", cfg.SessionTTL().String(),
			"basic_auth", cfg.BasicAuth != nil,
		)

		ctx, cancel := signalContext()
		defer cancel()

		importer, err := newImporter(ctx, cfg)
		if err != nil {
			appLog.Warn("google calendar import disabled", "err", err)
			importer = nil
		}

		if err := web.StartServer(ctx, cfg, kioskDeps(cfg), importer); err != nil {
			appLog.Error("HTTP server failed", err)
			return err
		}
		appLog.Info("pic2contact exiting")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides config if set)")
}
