package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"pic2contact/internal/app"
	"pic2contact/internal/camera"
	"pic2contact/internal/config"
	"pic2contact/internal/export"
	"pic2contact/internal/gcal"
	"pic2contact/internal/geo"
	appLog "pic2contact/internal/log"
	"pic2contact/internal/model"
	"pic2contact/internal/notify"
	"pic2contact/internal/upload"
)

const desktopID = "pic2contact"

func newCamera(cfg *config.Config) camera.Camera {
	return camera.NewChromium(camera.ChromiumOptions{
		ChromePath: cfg.Camera.ChromePath,
		FakeDevice: cfg.Camera.FakeDevice,
		Headless:   cfg.Camera.Headless,
		Timeout:    time.Duration(cfg.Camera.TimeoutSeconds) * time.Second,
	})
}

// newLocator returns nil for provider "none", which the workflow reports
// as a device without geolocation.
func newLocator(cfg *config.Config) geo.Locator {
	switch cfg.Geolocation.Provider {
	case "none":
		return nil
	case "static":
		return geo.Static{Location: model.Location{
			Latitude:  cfg.Geolocation.Latitude,
			Longitude: cfg.Geolocation.Longitude,
		}}
	default:
		return geo.NewGeoClue(desktopID, time.Duration(cfg.Geolocation.TimeoutSeconds)*time.Second)
	}
}

// newUploader bounds every upload by upload_timeout_seconds. Kiosk actions
// run detached from the request, so this is what ends a hung backend call.
func newUploader(cfg *config.Config) *upload.Client {
	return upload.NewClient(cfg.APIURL, cfg.UploadTimeout(), &http.Client{Timeout: cfg.UploadTimeout()})
}

// newNotifier builds the CLI alert sink. The returned closer releases the
// session bus connection, if any.
func newNotifier(cfg *config.Config) (notify.Notifier, func()) {
	stderr := notify.NewWriter(os.Stderr)
	if cfg.Notify.Provider != "dbus" {
		return stderr, func() {}
	}
	d := notify.NewDesktop(desktopID, stderr)
	return d, func() {
		if err := d.Close(); err != nil {
			appLog.Error("notification bus close failed", err)
		}
	}
}

// kioskDeps wires a browser session. Alerts go to the session's queue so
// the page can show them; downloads are streamed by the web handler.
func kioskDeps(cfg *config.Config) func(n notify.Notifier) app.Deps {
	cam := newCamera(cfg)
	loc := newLocator(cfg)
	up := newUploader(cfg)
	return func(n notify.Notifier) app.Deps {
		return app.Deps{
			Camera:   cam,
			Locator:  loc,
			Uploader: up,
			Notifier: n,
		}
	}
}

func cliDeps(cfg *config.Config, n notify.Notifier) app.Deps {
	return app.Deps{
		Camera:   newCamera(cfg),
		Locator:  newLocator(cfg),
		Uploader: newUploader(cfg),
		Saver:    export.Dir{Path: cfg.DownloadDir},
		Notifier: n,
	}
}

// newImporter returns nil when Google Calendar is not configured.
func newImporter(ctx context.Context, cfg *config.Config) (export.Saver, error) {
	if cfg.GoogleCalendar == nil {
		return nil, nil
	}
	im, err := gcal.NewImporter(ctx, cfg.GoogleCalendar)
	if err != nil {
		return nil, err
	}
	return im, nil
}
