package export

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"pic2contact/internal/config"
	appLog "pic2contact/internal/log"
)

const (
	// FileName is the name every calendar result is saved under.
	FileName = "event.ics"
	MIMEType = "text/calendar"
)

// Saver hands a finished artifact to the user, e.g. by writing it to a
// downloads folder or streaming it to a browser.
type Saver interface {
	Save(ctx context.Context, name, mimeType string, data []byte) error
}

// Dir writes artifacts into a directory, replacing any previous file of the
// same name atomically.
type Dir struct {
	Path string
}

func (d Dir) Save(ctx context.Context, name, mimeType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.Path == "" {
		return errors.New("export: directory is empty")
	}
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("export: invalid file name %q", name)
	}

	target := filepath.Join(d.Path, name)
	if err := config.WriteFileAtomic(target, data, 0o644); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	appLog.Info("artifact saved", "path", target, "mime", mimeType, "bytes", len(data))
	return nil
}
