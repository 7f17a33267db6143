package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pic2contact/internal/camera"
	"pic2contact/internal/model"
	"pic2contact/internal/upload"
)

// jpegHeader is enough for http.DetectContentType to report image/jpeg.
var jpegHeader = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

type fakeStream struct {
	mu       sync.Mutex
	stops    int
	frameErr error
}

func (s *fakeStream) Frame(context.Context) (camera.Frame, error) {
	if s.frameErr != nil {
		return camera.Frame{}, s.frameErr
	}
	return camera.Frame{JPEG: jpegHeader, Width: 640, Height: 480}, nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *fakeStream) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

type fakeCamera struct {
	stream *fakeStream
	err    error
	opens  int
}

func (c *fakeCamera) Open(context.Context) (camera.Stream, error) {
	c.opens++
	if c.err != nil {
		return nil, c.err
	}
	return c.stream, nil
}

type fakeLocator struct {
	mu    sync.Mutex
	loc   model.Location
	err   error
	calls int
}

func (l *fakeLocator) CurrentPosition(context.Context) (model.Location, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.loc, l.err
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Alert(_ context.Context, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

type fakeSaver struct {
	saves []string
	names []string
	mimes []string
	err   error
}

func (s *fakeSaver) Save(_ context.Context, name, mimeType string, data []byte) error {
	if s.err != nil {
		return s.err
	}
	s.names = append(s.names, name)
	s.mimes = append(s.mimes, mimeType)
	s.saves = append(s.saves, string(data))
	return nil
}

type stubUploader struct {
	text string
	err  error
}

func (u stubUploader) Send(context.Context, model.Photo, *model.Location) (string, error) {
	return u.text, u.err
}

type harness struct {
	comp     *Component
	stream   *fakeStream
	camera   *fakeCamera
	locator  *fakeLocator
	notifier *recordingNotifier
	saver    *fakeSaver
}

func newHarness(t *testing.T, uploader Uploader) *harness {
	t.Helper()
	h := &harness{
		stream:   &fakeStream{},
		locator:  &fakeLocator{loc: model.Location{Latitude: 37.422, Longitude: -122.084}},
		notifier: &recordingNotifier{},
		saver:    &fakeSaver{},
	}
	h.camera = &fakeCamera{stream: h.stream}
	h.comp = New(Deps{
		Camera:   h.camera,
		Locator:  h.locator,
		Uploader: uploader,
		Saver:    h.saver,
		Notifier: h.notifier,
	})
	return h
}

func assertCleared(t *testing.T, s model.Snapshot) {
	t.Helper()
	if s.Mode != model.ModeEmpty || s.HasPhoto || s.CameraActive || s.Location != nil || s.Calendar != "" {
		t.Fatalf("expected cleared state, got %+v", s)
	}
}

func TestClear_AlwaysResetsState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, stubUploader{text: "BEGIN:VCALENDAR\nEND:VCALENDAR"})

	h.comp.Clear()
	assertCleared(t, h.comp.Snapshot())

	if err := h.comp.RequestCamera(ctx); err != nil {
		t.Fatalf("request camera: %v", err)
	}
	h.comp.Clear()
	h.comp.Clear()
	assertCleared(t, h.comp.Snapshot())

	if err := h.comp.ChoosePhoto(ctx, bytes.NewReader(jpegHeader)); err != nil {
		t.Fatalf("choose photo: %v", err)
	}
	if err := h.comp.SendPhoto(ctx); err != nil {
		t.Fatalf("send photo: %v", err)
	}
	h.comp.Clear()
	assertCleared(t, h.comp.Snapshot())
}

func TestCaptureThenClear_StopsStreamOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, nil)

	if err := h.comp.RequestCamera(ctx); err != nil {
		t.Fatalf("request camera: %v", err)
	}
	if got := h.comp.Snapshot().Mode; got != model.ModeCameraActive {
		t.Fatalf("mode mismatch: %s", got)
	}
	if err := h.comp.CaptureFrame(ctx); err != nil {
		t.Fatalf("capture: %v", err)
	}
	h.comp.Clear()
	_ = h.comp.Close()

	if n := h.stream.stopCount(); n != 1 {
		t.Fatalf("expected exactly one stop, got %d", n)
	}
}

func TestCaptureFrame_StoresJPEGAndTagsLocation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, nil)

	if err := h.comp.RequestCamera(ctx); err != nil {
		t.Fatalf("request camera: %v", err)
	}
	if err := h.comp.CaptureFrame(ctx); err != nil {
		t.Fatalf("capture: %v", err)
	}

	s := h.comp.Snapshot()
	if s.Mode != model.ModePhotoHeld || s.CameraActive {
		t.Fatalf("unexpected state after capture: %+v", s)
	}
	if !strings.HasPrefix(string(h.comp.Photo()), "data:image/jpeg;base64,") {
		t.Fatalf("photo is not a JPEG data URL: %.40s", h.comp.Photo())
	}
	if h.locator.calls != 1 {
		t.Fatalf("expected one location request, got %d", h.locator.calls)
	}
}

func TestCaptureFrame_NoStreamIsSilent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if err := h.comp.CaptureFrame(context.Background()); !errors.Is(err, ErrNoCamera) {
		t.Fatalf("expected ErrNoCamera, got %v", err)
	}
	if len(h.notifier.all()) != 0 {
		t.Fatalf("guard should not alert: %v", h.notifier.all())
	}
}

func TestCaptureFrame_FrameErrorKeepsCamera(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, nil)
	h.stream.frameErr = errors.New("no frames")

	if err := h.comp.RequestCamera(ctx); err != nil {
		t.Fatalf("request camera: %v", err)
	}
	if err := h.comp.CaptureFrame(ctx); err == nil {
		t.Fatalf("expected capture error")
	}
	if s := h.comp.Snapshot(); !s.CameraActive || s.HasPhoto {
		t.Fatalf("camera should stay active without a photo: %+v", s)
	}
	if h.stream.stopCount() != 0 {
		t.Fatalf("stream should not be stopped on frame error")
	}
}

func TestRequestCamera_FailureAlertsAndLeavesState(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.camera.err = errors.New("permission denied")

	if err := h.comp.RequestCamera(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	assertCleared(t, h.comp.Snapshot())
	if msgs := h.notifier.all(); len(msgs) != 1 || msgs[0] != MsgCameraFailed {
		t.Fatalf("alert mismatch: %v", msgs)
	}
}

func TestRequestCamera_OnlyFromEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, nil)

	if err := h.comp.ChoosePhoto(ctx, bytes.NewReader(jpegHeader)); err != nil {
		t.Fatalf("choose photo: %v", err)
	}
	if err := h.comp.RequestCamera(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if h.camera.opens != 0 {
		t.Fatalf("camera should not be opened")
	}
}

func TestChoosePhoto_SetsDataURLAndLocatesOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if err := h.comp.ChoosePhoto(context.Background(), bytes.NewReader(jpegHeader)); err != nil {
		t.Fatalf("choose photo: %v", err)
	}

	if p := h.comp.Photo(); p == "" || !strings.HasPrefix(string(p), "data:image/jpeg;base64,") {
		t.Fatalf("unexpected photo: %q", p)
	}
	if h.locator.calls != 1 {
		t.Fatalf("expected exactly one location request, got %d", h.locator.calls)
	}
}

func TestChoosePhoto_NilAndEmptyAreSilent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if err := h.comp.ChoosePhoto(context.Background(), nil); !errors.Is(err, ErrNoFile) {
		t.Fatalf("expected ErrNoFile, got %v", err)
	}
	if err := h.comp.ChoosePhoto(context.Background(), bytes.NewReader(nil)); !errors.Is(err, ErrNoFile) {
		t.Fatalf("expected ErrNoFile for empty file, got %v", err)
	}
	if h.locator.calls != 0 || len(h.notifier.all()) != 0 {
		t.Fatalf("no-op guards must not locate or alert")
	}
}

func TestChoosePhoto_RejectsNonImage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if err := h.comp.ChoosePhoto(context.Background(), strings.NewReader("just text")); err == nil {
		t.Fatalf("expected error for non-image")
	}
	if h.comp.Snapshot().HasPhoto {
		t.Fatalf("non-image must not become the photo")
	}
	if msgs := h.notifier.all(); len(msgs) != 1 || msgs[0] != MsgPhotoFailed {
		t.Fatalf("alert mismatch: %v", msgs)
	}
}

func TestChoosePhoto_StopsActiveCamera(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, nil)

	if err := h.comp.RequestCamera(ctx); err != nil {
		t.Fatalf("request camera: %v", err)
	}
	if err := h.comp.ChoosePhoto(ctx, bytes.NewReader(jpegHeader)); err != nil {
		t.Fatalf("choose photo: %v", err)
	}
	if h.stream.stopCount() != 1 {
		t.Fatalf("camera should be stopped before the new photo is held")
	}
	if s := h.comp.Snapshot(); s.Mode != model.ModePhotoHeld {
		t.Fatalf("mode mismatch: %s", s.Mode)
	}
}

func TestRecordLocation_StoresFixWithoutTouchingPhoto(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if err := h.comp.ChoosePhoto(context.Background(), bytes.NewReader(jpegHeader)); err != nil {
		t.Fatalf("choose photo: %v", err)
	}
	before := h.comp.Photo()

	s := h.comp.Snapshot()
	if s.Location == nil || *s.Location != (model.Location{Latitude: 37.422, Longitude: -122.084}) {
		t.Fatalf("location mismatch: %+v", s.Location)
	}
	if s.LocationText != "37.422000, -122.084000" {
		t.Fatalf("location text mismatch: %s", s.LocationText)
	}
	if h.comp.Photo() != before {
		t.Fatalf("photo changed by location tagging")
	}
}

func TestRecordLocation_FailureKeepsPhoto(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.locator.err = errors.New("denied")

	if err := h.comp.ChoosePhoto(context.Background(), bytes.NewReader(jpegHeader)); err != nil {
		t.Fatalf("choose photo: %v", err)
	}
	s := h.comp.Snapshot()
	if !s.HasPhoto || s.Location != nil {
		t.Fatalf("expected photo without location: %+v", s)
	}
	if msgs := h.notifier.all(); len(msgs) != 1 || msgs[0] != MsgLocationFailed {
		t.Fatalf("alert mismatch: %v", msgs)
	}
}

func TestRecordLocation_Unsupported(t *testing.T) {
	t.Parallel()
	n := &recordingNotifier{}
	c := New(Deps{Notifier: n})

	if err := c.ChoosePhoto(context.Background(), bytes.NewReader(jpegHeader)); err != nil {
		t.Fatalf("choose photo: %v", err)
	}
	if msgs := n.all(); len(msgs) != 1 || msgs[0] != MsgNoGeolocation {
		t.Fatalf("alert mismatch: %v", msgs)
	}
	if !c.Snapshot().HasPhoto {
		t.Fatalf("photo should be retained")
	}
}

func TestSendPhoto_SuccessStoresExactBody(t *testing.T) {
	t.Parallel()
	const body = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("latitude") != "37.422" {
			t.Errorf("latitude missing: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	h := newHarness(t, upload.NewClient(srv.URL, time.Second, nil))
	ctx := context.Background()
	if err := h.comp.ChoosePhoto(ctx, bytes.NewReader(jpegHeader)); err != nil {
		t.Fatalf("choose photo: %v", err)
	}
	if err := h.comp.SendPhoto(ctx); err != nil {
		t.Fatalf("send photo: %v", err)
	}

	s := h.comp.Snapshot()
	if s.Calendar != body {
		t.Fatalf("calendar mismatch: %q", s.Calendar)
	}
	if s.Mode != model.ModeResultHeld || s.Loading {
		t.Fatalf("unexpected state: %+v", s)
	}
	if err := h.comp.SendPhoto(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("send should be hidden in result mode, got %v", err)
	}
}

func TestSendPhoto_NonSuccessKeepsPhotoAndLocation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := newHarness(t, upload.NewClient(srv.URL, time.Second, nil))
	ctx := context.Background()
	if err := h.comp.ChoosePhoto(ctx, bytes.NewReader(jpegHeader)); err != nil {
		t.Fatalf("choose photo: %v", err)
	}
	before := h.comp.Snapshot()
	photo := h.comp.Photo()

	err := h.comp.SendPhoto(ctx)
	var se *upload.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}

	after := h.comp.Snapshot()
	if after.Loading {
		t.Fatalf("loading flag not cleared")
	}
	if h.comp.Photo() != photo || *after.Location != *before.Location {
		t.Fatalf("photo or location changed on failure")
	}
	if after.Mode != model.ModePhotoHeld {
		t.Fatalf("should remain re-triable, mode=%s", after.Mode)
	}
	msgs := h.notifier.all()
	if len(msgs) == 0 || msgs[len(msgs)-1] != MsgUploadFailed {
		t.Fatalf("alert mismatch: %v", msgs)
	}
}

type blockingUploader struct {
	started chan struct{}
	release chan struct{}
	calls   int
	mu      sync.Mutex
}

func (u *blockingUploader) Send(context.Context, model.Photo, *model.Location) (string, error) {
	u.mu.Lock()
	u.calls++
	u.mu.Unlock()
	close(u.started)
	<-u.release
	return "BEGIN:VCALENDAR\nEND:VCALENDAR", nil
}

func TestSendPhoto_BusyWhileLoading(t *testing.T) {
	t.Parallel()
	u := &blockingUploader{started: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, u)
	ctx := context.Background()
	if err := h.comp.ChoosePhoto(ctx, bytes.NewReader(jpegHeader)); err != nil {
		t.Fatalf("choose photo: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- h.comp.SendPhoto(ctx) }()
	<-u.started

	if !h.comp.Snapshot().Loading {
		t.Fatalf("loading flag should be set while in flight")
	}
	if err := h.comp.SendPhoto(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(u.release)
	if err := <-errCh; err != nil {
		t.Fatalf("first send: %v", err)
	}
	if u.calls != 1 {
		t.Fatalf("expected one upload, got %d", u.calls)
	}
	if h.comp.Snapshot().Loading {
		t.Fatalf("loading flag not cleared")
	}
}

func TestSendPhoto_ClearDuringUploadDropsResult(t *testing.T) {
	t.Parallel()
	u := &blockingUploader{started: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, u)
	ctx := context.Background()
	if err := h.comp.ChoosePhoto(ctx, bytes.NewReader(jpegHeader)); err != nil {
		t.Fatalf("choose photo: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- h.comp.SendPhoto(ctx) }()
	<-u.started
	h.comp.Clear()
	close(u.release)

	if err := <-errCh; err != nil {
		t.Fatalf("send: %v", err)
	}
	assertCleared(t, h.comp.Snapshot())
}

func TestSendPhoto_OnlyFromPhotoHeld(t *testing.T) {
	t.Parallel()
	h := newHarness(t, stubUploader{text: "x"})

	if err := h.comp.SendPhoto(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestAddToCalendar_NoResultNoSave(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if err := h.comp.AddToCalendar(context.Background()); !errors.Is(err, ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}
	if len(h.saver.saves) != 0 || len(h.notifier.all()) != 0 {
		t.Fatalf("no download or alert expected")
	}
}

func TestAddToCalendar_SavesEventICS(t *testing.T) {
	t.Parallel()
	const body = "BEGIN:VCALENDAR\nEND:VCALENDAR"
	h := newHarness(t, stubUploader{text: body})
	ctx := context.Background()

	if err := h.comp.ChoosePhoto(ctx, bytes.NewReader(jpegHeader)); err != nil {
		t.Fatalf("choose photo: %v", err)
	}
	if err := h.comp.SendPhoto(ctx); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := h.comp.AddToCalendar(ctx); err != nil {
		t.Fatalf("add to calendar: %v", err)
	}

	if len(h.saver.saves) != 1 || h.saver.saves[0] != body {
		t.Fatalf("save mismatch: %v", h.saver.saves)
	}
	if h.saver.names[0] != "event.ics" || h.saver.mimes[0] != "text/calendar" {
		t.Fatalf("artifact mismatch: %s %s", h.saver.names[0], h.saver.mimes[0])
	}
	msgs := h.notifier.all()
	if msgs[len(msgs)-1] != MsgDownloaded {
		t.Fatalf("confirmation missing: %v", msgs)
	}
}

func TestClose_StopsCameraAndRejectsAcquisition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, nil)

	if err := h.comp.RequestCamera(ctx); err != nil {
		t.Fatalf("request camera: %v", err)
	}
	if err := h.comp.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = h.comp.Close()
	h.comp.Clear()

	if h.stream.stopCount() != 1 {
		t.Fatalf("expected one stop, got %d", h.stream.stopCount())
	}
	if err := h.comp.RequestCamera(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestImport_UsesImporterAndKeepsResult(t *testing.T) {
	t.Parallel()
	const body = "BEGIN:VCALENDAR\nEND:VCALENDAR"
	h := newHarness(t, stubUploader{text: body})
	ctx := context.Background()

	if err := h.comp.ChoosePhoto(ctx, bytes.NewReader(jpegHeader)); err != nil {
		t.Fatalf("choose photo: %v", err)
	}
	if err := h.comp.SendPhoto(ctx); err != nil {
		t.Fatalf("send: %v", err)
	}

	failing := &fakeSaver{err: errors.New("quota")}
	if err := h.comp.Import(ctx, failing); err == nil {
		t.Fatalf("expected import error")
	}
	if msgs := h.notifier.all(); msgs[len(msgs)-1] != MsgImportFailed {
		t.Fatalf("failure alert missing: %v", msgs)
	}

	importer := &fakeSaver{}
	if err := h.comp.Import(ctx, importer); err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(importer.saves) != 1 || importer.saves[0] != body {
		t.Fatalf("import mismatch: %v", importer.saves)
	}
	if msgs := h.notifier.all(); msgs[len(msgs)-1] != MsgImported {
		t.Fatalf("confirmation missing: %v", msgs)
	}
	if len(h.saver.saves) != 0 {
		t.Fatalf("download saver must not be used by Import")
	}
	if h.comp.Snapshot().Mode != model.ModeResultHeld {
		t.Fatalf("result should stay held after import")
	}
}
