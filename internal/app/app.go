// Package app holds the photo → contact workflow: acquire a photo, tag it
// with a location fix, upload it, and export the returned calendar file.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"pic2contact/internal/camera"
	"pic2contact/internal/export"
	"pic2contact/internal/geo"
	appLog "pic2contact/internal/log"
	"pic2contact/internal/model"
	"pic2contact/internal/notify"
)

// Silent guard errors. Callers may ignore them; no alert is raised.
var (
	ErrNoCamera     = errors.New("no camera stream bound")
	ErrNoFile       = errors.New("no file selected")
	ErrNoResult     = errors.New("no calendar result")
	ErrBusy         = errors.New("upload already in progress")
	ErrInvalidState = errors.New("action not allowed in current state")
	ErrClosed       = errors.New("workflow closed")
)

// User-facing alert texts.
const (
	MsgCameraFailed   = "Unable to access camera. Please check permissions."
	MsgCaptureFailed  = "Unable to capture photo. Please try again."
	MsgPhotoFailed    = "Unable to read the selected photo."
	MsgNoGeolocation  = "Your device doesn't support geolocation."
	MsgLocationFailed = "Unable to get your location. Please check permissions."
	MsgUploadFailed   = "Failed to process the image. Please try again."
	MsgSaveFailed     = "Unable to save the calendar event."
	MsgDownloaded     = "Calendar event downloaded. Please open it with your calendar application."
	MsgImportFailed   = "Unable to add the event to your calendar."
	MsgImported       = "Event added to your calendar."
)

// maxPhotoBytes bounds a picked file.
const maxPhotoBytes = 25 << 20

// Uploader sends a photo to the backend and returns the calendar text.
type Uploader interface {
	Send(ctx context.Context, photo model.Photo, loc *model.Location) (string, error)
}

// Deps are the collaborators a Component drives. A nil Camera means the
// device has no camera; a nil Locator means no geolocation support.
type Deps struct {
	Camera   camera.Camera
	Locator  geo.Locator
	Uploader Uploader
	Saver    export.Saver
	Notifier notify.Notifier
}

// Component is one instance of the workflow. It is safe for concurrent use.
type Component struct {
	deps Deps

	// acquireMu serializes photo acquisition (camera open, frame grab,
	// file read, location fix). It is always taken before mu.
	acquireMu sync.Mutex

	mu           sync.Mutex
	photo        model.Photo
	photoGen     uint64
	cameraActive bool
	stream       camera.Stream
	calendar     string
	hasCalendar  bool
	loading      bool
	location     *model.Location
	closed       bool
}

func New(deps Deps) *Component {
	if deps.Notifier == nil {
		deps.Notifier = notify.NewWriter(io.Discard)
	}
	return &Component{deps: deps}
}

// RequestCamera opens a live stream. Only valid from the empty view.
func (c *Component) RequestCamera(ctx context.Context) error {
	c.acquireMu.Lock()
	defer c.acquireMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.modeLocked() != model.ModeEmpty {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.mu.Unlock()

	if c.deps.Camera == nil {
		return c.fail(ctx, MsgCameraFailed, "request camera", errors.New("no camera configured"))
	}

	stream, err := c.deps.Camera.Open(ctx)
	if err != nil {
		return c.fail(ctx, MsgCameraFailed, "request camera", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = stream.Stop()
		return ErrClosed
	}
	c.stream = stream
	c.cameraActive = true
	c.mu.Unlock()

	appLog.Info("camera active")
	return nil
}

// CaptureFrame turns the current video frame into the held photo, releases
// the camera, and tags the photo with a location fix.
func (c *Component) CaptureFrame(ctx context.Context) error {
	c.acquireMu.Lock()
	defer c.acquireMu.Unlock()

	c.mu.Lock()
	stream := c.stream
	if stream == nil || !c.cameraActive {
		c.mu.Unlock()
		return ErrNoCamera
	}
	c.mu.Unlock()

	frame, err := stream.Frame(ctx)
	if err != nil {
		return c.fail(ctx, MsgCaptureFailed, "capture frame", err)
	}

	c.mu.Lock()
	if c.stream != stream {
		// Cleared while the frame was being grabbed.
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.setPhotoLocked(model.EncodeDataURL("image/jpeg", frame.JPEG))
	c.cameraActive = false
	c.stream = nil
	gen := c.photoGen
	c.mu.Unlock()

	_ = stream.Stop()
	appLog.Info("photo captured", "width", frame.Width, "height", frame.Height, "bytes", len(frame.JPEG))

	c.recordLocation(ctx, gen)
	return nil
}

// ChoosePhoto reads a user-selected image into the held photo and tags it
// with a location fix. A nil reader is a silent no-op.
func (c *Component) ChoosePhoto(ctx context.Context, r io.Reader) error {
	if r == nil {
		return ErrNoFile
	}

	c.acquireMu.Lock()
	defer c.acquireMu.Unlock()

	data, err := io.ReadAll(io.LimitReader(r, maxPhotoBytes+1))
	if err != nil {
		return c.fail(ctx, MsgPhotoFailed, "choose photo", err)
	}
	if len(data) == 0 {
		return ErrNoFile
	}
	if len(data) > maxPhotoBytes {
		return c.fail(ctx, MsgPhotoFailed, "choose photo", errors.New("file too large"))
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return c.fail(ctx, MsgPhotoFailed, "choose photo", fmt.Errorf("not an image: %s", mime))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	stream := c.stream
	c.stream = nil
	c.cameraActive = false
	c.setPhotoLocked(model.EncodeDataURL(mime, data))
	gen := c.photoGen
	c.mu.Unlock()

	if stream != nil {
		_ = stream.Stop()
	}
	appLog.Info("photo chosen", "mime", mime, "bytes", len(data))

	c.recordLocation(ctx, gen)
	return nil
}

// recordLocation requests one position fix for the photo of generation gen.
// A fix that arrives after the photo was cleared or replaced is dropped.
func (c *Component) recordLocation(ctx context.Context, gen uint64) {
	if c.deps.Locator == nil {
		appLog.Warn("geolocation not supported")
		c.deps.Notifier.Alert(ctx, MsgNoGeolocation)
		return
	}

	loc, err := c.deps.Locator.CurrentPosition(ctx)
	if err != nil {
		appLog.Error("location lookup failed", err)
		c.deps.Notifier.Alert(ctx, MsgLocationFailed)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.photoGen != gen || c.photo == "" {
		appLog.Debug("location fix discarded for stale photo")
		return
	}
	c.location = &loc
	appLog.Info("location recorded")
}

// SendPhoto uploads the held photo. A second call while a request is in
// flight returns ErrBusy without touching the network.
func (c *Component) SendPhoto(ctx context.Context) error {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.modeLocked() != model.ModePhotoHeld {
		c.mu.Unlock()
		return ErrInvalidState
	}
	if c.deps.Uploader == nil {
		c.mu.Unlock()
		return c.fail(ctx, MsgUploadFailed, "send photo", errors.New("no uploader configured"))
	}
	c.loading = true
	photo := c.photo
	gen := c.photoGen
	var loc *model.Location
	if c.location != nil {
		l := *c.location
		loc = &l
	}
	c.mu.Unlock()

	done := false
	defer func() {
		if !done {
			c.mu.Lock()
			c.loading = false
			c.mu.Unlock()
		}
	}()

	text, err := c.deps.Uploader.Send(ctx, photo, loc)

	c.mu.Lock()
	c.loading = false
	done = true
	stale := c.photoGen != gen
	if err == nil && !stale {
		c.calendar = text
		c.hasCalendar = true
	}
	c.mu.Unlock()

	if err != nil {
		return c.fail(ctx, MsgUploadFailed, "send photo", err)
	}
	if stale {
		appLog.Info("upload result discarded; photo changed while sending")
		return nil
	}
	appLog.Info("calendar result received", "bytes", len(text))
	return nil
}

// AddToCalendar saves the calendar result with the configured Saver.
func (c *Component) AddToCalendar(ctx context.Context) error {
	return c.Export(ctx, c.deps.Saver)
}

// Export saves the calendar result as event.ics through saver and then
// tells the user to open it. Without a result nothing is saved.
func (c *Component) Export(ctx context.Context, saver export.Saver) error {
	return c.deliver(ctx, saver, "add to calendar", MsgSaveFailed, MsgDownloaded)
}

// Import hands the calendar result to a remote calendar, e.g. the Google
// Calendar importer. Without a result nothing is sent.
func (c *Component) Import(ctx context.Context, importer export.Saver) error {
	return c.deliver(ctx, importer, "import event", MsgImportFailed, MsgImported)
}

func (c *Component) deliver(ctx context.Context, saver export.Saver, op, failMsg, doneMsg string) error {
	c.mu.Lock()
	if !c.hasCalendar {
		c.mu.Unlock()
		return ErrNoResult
	}
	text := c.calendar
	c.mu.Unlock()

	if saver == nil {
		return c.fail(ctx, failMsg, op, errors.New("no target configured"))
	}
	if err := saver.Save(ctx, export.FileName, export.MIMEType, []byte(text)); err != nil {
		return c.fail(ctx, failMsg, op, err)
	}

	appLog.Info("calendar event delivered", "op", op, "file", export.FileName)
	c.deps.Notifier.Alert(ctx, doneMsg)
	return nil
}

// Clear resets every piece of state and stops any held camera stream. It
// is safe to call from any state, any number of times.
func (c *Component) Clear() {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.cameraActive = false
	c.photo = ""
	c.photoGen++
	c.location = nil
	c.calendar = ""
	c.hasCalendar = false
	c.mu.Unlock()

	if stream != nil {
		_ = stream.Stop()
	}
}

// Close is teardown: it releases the camera and rejects later acquisitions.
func (c *Component) Close() error {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.cameraActive = false
	c.closed = true
	c.mu.Unlock()

	if stream != nil {
		return stream.Stop()
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (c *Component) Snapshot() model.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := model.Snapshot{
		Mode:         c.modeLocked(),
		HasPhoto:     c.photo != "",
		CameraActive: c.cameraActive,
		Loading:      c.loading,
	}
	if c.location != nil {
		l := *c.location
		s.Location = &l
		s.LocationText = l.String()
	}
	if c.hasCalendar {
		s.Calendar = c.calendar
	}
	return s
}

// Photo returns the held photo, or "" when none is held.
func (c *Component) Photo() model.Photo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.photo
}

// modeLocked derives the view panel, mirroring the render precedence:
// live camera, then result, then photo, then the placeholder.
func (c *Component) modeLocked() model.Mode {
	switch {
	case c.cameraActive:
		return model.ModeCameraActive
	case c.hasCalendar:
		return model.ModeResultHeld
	case c.photo != "":
		return model.ModePhotoHeld
	default:
		return model.ModeEmpty
	}
}

// setPhotoLocked replaces the photo. Location and result belong to the old
// photo and are dropped with it.
func (c *Component) setPhotoLocked(p model.Photo) {
	c.photo = p
	c.photoGen++
	c.location = nil
	c.calendar = ""
	c.hasCalendar = false
}

// fail logs err, alerts the user, and returns err wrapped with op.
func (c *Component) fail(ctx context.Context, msg, op string, err error) error {
	appLog.Error(op+" failed", err)
	c.deps.Notifier.Alert(ctx, msg)
	return fmt.Errorf("%s: %w", op, err)
}
