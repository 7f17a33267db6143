package model

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Location is a one-shot position fix attached to the currently held photo.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// String formats the fix the way the UI shows it.
func (l Location) String() string {
	return fmt.Sprintf("%.6f, %.6f", l.Latitude, l.Longitude)
}

// Mode is the view panel currently driving the UI. Exactly one is active.
type Mode string

const (
	ModeEmpty        Mode = "empty"
	ModeCameraActive Mode = "camera"
	ModePhotoHeld    Mode = "photo"
	ModeResultHeld   Mode = "result"
)

// Photo is an image held as a data URL, e.g. "data:image/jpeg;base64,...".
type Photo string

// ErrBadDataURL is returned when a Photo cannot be decoded.
var ErrBadDataURL = errors.New("malformed data URL")

// EncodeDataURL wraps raw image bytes into a base64 data URL.
func EncodeDataURL(mime string, data []byte) Photo {
	if mime == "" {
		mime = "application/octet-stream"
	}
	return Photo("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data))
}

// Decode returns the MIME type and raw bytes of the photo.
func (p Photo) Decode() (string, []byte, error) {
	return DecodeDataURL(string(p))
}

// DecodeDataURL parses a data URL. Both base64 and percent-free plain
// payloads are accepted, matching what canvas and FileReader emit.
func DecodeDataURL(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, ErrBadDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrBadDataURL
	}

	isBase64 := false
	mime := meta
	if m, found := strings.CutSuffix(meta, ";base64"); found {
		mime = m
		isBase64 = true
	}
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if mime == "" {
		mime = "text/plain"
	}

	if !isBase64 {
		return mime, []byte(payload), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrBadDataURL, err)
	}
	return mime, data, nil
}

// Snapshot is a read-only copy of a workflow's state.
type Snapshot struct {
	Mode         Mode      `json:"mode"`
	HasPhoto     bool      `json:"has_photo"`
	CameraActive bool      `json:"camera_active"`
	Loading      bool      `json:"loading"`
	Location     *Location `json:"location,omitempty"`
	LocationText string    `json:"location_text,omitempty"`
	Calendar     string    `json:"calendar,omitempty"`
}
