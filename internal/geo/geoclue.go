package geo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	appLog "pic2contact/internal/log"
	"pic2contact/internal/model"
)

const (
	geoclueService = "org.freedesktop.GeoClue2"
	managerPath    = dbus.ObjectPath("/org/freedesktop/GeoClue2/Manager")
	managerIface   = "org.freedesktop.GeoClue2.Manager"
	clientIface    = "org.freedesktop.GeoClue2.Client"
	locationIface  = "org.freedesktop.GeoClue2.Location"

	// GClueAccuracyLevel EXACT.
	accuracyExact = uint32(8)
)

// GeoClue asks the GeoClue2 daemon on the system bus for one fix, then
// stops the client again.
type GeoClue struct {
	desktopID string
	timeout   time.Duration
}

func NewGeoClue(desktopID string, timeout time.Duration) *GeoClue {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &GeoClue{desktopID: desktopID, timeout: timeout}
}

func (g *GeoClue) CurrentPosition(ctx context.Context) (model.Location, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return model.Location{}, fmt.Errorf("%w: connect system bus: %v", ErrUnavailable, err)
	}
	defer conn.Close()

	var clientPath dbus.ObjectPath
	manager := conn.Object(geoclueService, managerPath)
	if err := manager.CallWithContext(ctx, managerIface+".GetClient", 0).Store(&clientPath); err != nil {
		return model.Location{}, fmt.Errorf("%w: get client: %v", ErrUnavailable, err)
	}

	client := conn.Object(geoclueService, clientPath)
	if err := client.SetProperty(clientIface+".DesktopId", dbus.MakeVariant(g.desktopID)); err != nil {
		return model.Location{}, fmt.Errorf("geoclue: set desktop id: %w", err)
	}
	if err := client.SetProperty(clientIface+".RequestedAccuracyLevel", dbus.MakeVariant(accuracyExact)); err != nil {
		appLog.Debug("geoclue: accuracy level not accepted", "err", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(clientPath),
		dbus.WithMatchInterface(clientIface),
		dbus.WithMatchMember("LocationUpdated"),
	); err != nil {
		return model.Location{}, fmt.Errorf("geoclue: add match: %w", err)
	}

	signals := make(chan *dbus.Signal, 4)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	if err := client.CallWithContext(ctx, clientIface+".Start", 0).Err; err != nil {
		return model.Location{}, fmt.Errorf("geoclue: start: %w", err)
	}
	defer client.Call(clientIface+".Stop", 0)

	for {
		select {
		case <-ctx.Done():
			return model.Location{}, fmt.Errorf("geoclue: waiting for fix: %w", ctx.Err())
		case sig, ok := <-signals:
			if !ok {
				return model.Location{}, errors.New("geoclue: signal channel closed")
			}
			locPath, ok := locationPathFromSignal(sig, clientPath)
			if !ok {
				continue
			}
			loc, err := readLocation(conn.Object(geoclueService, locPath))
			if err != nil {
				return model.Location{}, err
			}
			appLog.Debug("geoclue fix received", "latitude", loc.Latitude, "longitude", loc.Longitude)
			return loc, nil
		}
	}
}

// locationPathFromSignal extracts the new Location object path from a
// LocationUpdated(old, new) signal emitted by our client.
func locationPathFromSignal(sig *dbus.Signal, clientPath dbus.ObjectPath) (dbus.ObjectPath, bool) {
	if sig == nil || sig.Path != clientPath || sig.Name != clientIface+".LocationUpdated" {
		return "", false
	}
	if len(sig.Body) < 2 {
		return "", false
	}
	p, ok := sig.Body[1].(dbus.ObjectPath)
	if !ok || !p.IsValid() || p == "/" {
		return "", false
	}
	return p, true
}

func readLocation(obj dbus.BusObject) (model.Location, error) {
	lat, err := obj.GetProperty(locationIface + ".Latitude")
	if err != nil {
		return model.Location{}, fmt.Errorf("geoclue: read latitude: %w", err)
	}
	lon, err := obj.GetProperty(locationIface + ".Longitude")
	if err != nil {
		return model.Location{}, fmt.Errorf("geoclue: read longitude: %w", err)
	}
	return coordsFromVariants(lat, lon)
}

func coordsFromVariants(lat, lon dbus.Variant) (model.Location, error) {
	latF, ok := lat.Value().(float64)
	if !ok {
		return model.Location{}, fmt.Errorf("geoclue: latitude has type %s", lat.Signature())
	}
	lonF, ok := lon.Value().(float64)
	if !ok {
		return model.Location{}, fmt.Errorf("geoclue: longitude has type %s", lon.Signature())
	}
	return model.Location{Latitude: latF, Longitude: lonF}, nil
}
