package camera

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStopOnce_RunsReleaseOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	s := &stopOnce{fn: func() error {
		calls++
		return errors.New("already closed")
	}}

	first := s.Stop()
	second := s.Stop()

	if calls != 1 {
		t.Fatalf("release ran %d times", calls)
	}
	if first == nil || first != second {
		t.Fatalf("expected the same error from both calls: %v / %v", first, second)
	}
}

func TestStopOnce_NilRelease(t *testing.T) {
	t.Parallel()

	var s stopOnce
	if err := s.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPageHandler_ServesCaptureScript(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(pageHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("unexpected content type: %s", resp.Header.Get("Content-Type"))
	}
	for _, fn := range []string{"startCamera", "captureFrame", "stopCamera", "toDataURL('image/jpeg')"} {
		if !strings.Contains(string(body), fn) {
			t.Fatalf("page missing %s", fn)
		}
	}
}

func TestNewChromium_DefaultTimeout(t *testing.T) {
	t.Parallel()

	c := NewChromium(ChromiumOptions{})
	if c.opts.Timeout != DefaultTimeout {
		t.Fatalf("timeout mismatch: %v", c.opts.Timeout)
	}
}
