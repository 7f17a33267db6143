package camera

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	appLog "pic2contact/internal/log"
	"pic2contact/internal/model"
)

const DefaultTimeout = 20 * time.Second

// ChromiumOptions configures the headless-browser camera.
type ChromiumOptions struct {
	// ChromePath overrides the browser binary; empty lets chromedp find one.
	ChromePath string
	// FakeDevice makes Chromium serve its synthetic test pattern.
	FakeDevice bool
	Headless   bool
	// Timeout bounds Open and each Frame call. Zero uses DefaultTimeout.
	Timeout time.Duration
}

// Chromium drives getUserMedia inside a Chromium instance via chromedp and
// grabs frames through an offscreen canvas, so the JPEG bytes are exactly
// what a browser would upload.
type Chromium struct {
	opts ChromiumOptions
}

func NewChromium(opts ChromiumOptions) *Chromium {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Chromium{opts: opts}
}

// capturePage is served from a loopback listener. getUserMedia only exists
// in secure contexts, and http://127.0.0.1 qualifies.
const capturePage = `<!doctype html>
<html><body>
<video id="v" autoplay playsinline muted></video>
<script>
async function startCamera() {
  const s = await navigator.mediaDevices.getUserMedia({ video: true });
  window.__stream = s;
  const v = document.getElementById('v');
  v.srcObject = s;
  await v.play();
  if (!v.videoWidth) {
    await new Promise(r => v.addEventListener('loadedmetadata', r, { once: true }));
  }
  return { width: v.videoWidth, height: v.videoHeight };
}
function captureFrame() {
  const v = document.getElementById('v');
  const c = document.createElement('canvas');
  c.width = v.videoWidth;
  c.height = v.videoHeight;
  c.getContext('2d').drawImage(v, 0, 0);
  return { width: c.width, height: c.height, data: c.toDataURL('image/jpeg') };
}
function stopCamera() {
  if (window.__stream) {
    window.__stream.getTracks().forEach(t => t.stop());
    window.__stream = null;
  }
  return true;
}
</script>
</body></html>`

func pageHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(capturePage))
	})
}

type frameResult struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   string `json:"data"`
}

// Open launches a browser, requests the camera, and waits until the video
// element reports its native resolution.
func (c *Chromium) Open(ctx context.Context) (Stream, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("camera: listen: %w", err)
	}
	srv := &http.Server{Handler: pageHandler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("camera page server stopped", err)
		}
	}()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.opts.Headless),
		chromedp.Flag("use-fake-ui-for-media-stream", true),
	)
	if c.opts.FakeDevice {
		allocOpts = append(allocOpts, chromedp.Flag("use-fake-device-for-media-stream", true))
	}
	if c.opts.ChromePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(c.opts.ChromePath))
	}

	// The browser outlives ctx; only Stop tears it down.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &chromiumStream{
		browserCtx: browserCtx,
		timeout:    c.opts.Timeout,
	}
	s.stop.fn = func() error {
		stopCtx, cancel := context.WithTimeout(browserCtx, 2*time.Second)
		var ok bool
		_ = chromedp.Run(stopCtx, chromedp.Evaluate(`stopCamera()`, &ok))
		cancel()
		browserCancel()
		allocCancel()
		return srv.Close()
	}

	var info frameResult
	pageURL := "http://" + ln.Addr().String() + "/"
	err = s.run(ctx,
		chromedp.Navigate(pageURL),
		chromedp.Evaluate(`startCamera()`, &info, awaitPromise),
	)
	if err != nil {
		_ = s.Stop()
		return nil, fmt.Errorf("camera: open: %w", err)
	}

	appLog.Info("camera stream opened", "width", info.Width, "height", info.Height, "fake_device", c.opts.FakeDevice)
	return s, nil
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

type chromiumStream struct {
	browserCtx context.Context
	timeout    time.Duration
	stop       stopOnce
}

// run executes actions against the browser, bounded by both the caller's
// ctx and the configured timeout.
func (s *chromiumStream) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.browserCtx, s.timeout)
	defer cancel()
	unhook := context.AfterFunc(ctx, cancel)
	defer unhook()
	return chromedp.Run(runCtx, actions...)
}

func (s *chromiumStream) Frame(ctx context.Context) (Frame, error) {
	if s.browserCtx.Err() != nil {
		return Frame{}, ErrStopped
	}

	var res frameResult
	if err := s.run(ctx, chromedp.Evaluate(`captureFrame()`, &res)); err != nil {
		return Frame{}, fmt.Errorf("camera: frame: %w", err)
	}
	if res.Width == 0 || res.Height == 0 {
		return Frame{}, errors.New("camera: frame: video has no dimensions yet")
	}

	_, data, err := model.DecodeDataURL(res.Data)
	if err != nil {
		return Frame{}, fmt.Errorf("camera: frame: %w", err)
	}
	return Frame{JPEG: data, Width: res.Width, Height: res.Height}, nil
}

func (s *chromiumStream) Stop() error {
	err := s.stop.Stop()
	if err != nil {
		appLog.Error("camera stream stop failed", err)
	}
	return err
}
