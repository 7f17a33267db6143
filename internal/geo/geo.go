// Package geo obtains one-shot position fixes.
package geo

import (
	"context"
	"errors"

	"pic2contact/internal/model"
)

// ErrUnavailable means the device has no way to locate itself.
var ErrUnavailable = errors.New("geolocation unavailable")

// Locator requests a single position fix. It is not a subscription.
type Locator interface {
	CurrentPosition(ctx context.Context) (model.Location, error)
}

// Static always answers with a configured position.
type Static struct {
	Location model.Location
}

func (s Static) CurrentPosition(ctx context.Context) (model.Location, error) {
	if err := ctx.Err(); err != nil {
		return model.Location{}, err
	}
	return s.Location, nil
}
