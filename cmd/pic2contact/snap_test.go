package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"pic2contact/internal/app"
	"pic2contact/internal/config"
	"pic2contact/internal/export"
	"pic2contact/internal/geo"
	"pic2contact/internal/model"
	"pic2contact/internal/notify"
)

const cardVCF = "BEGIN:VCARD\r\nVERSION:3.0\r\nFN:Ana Garcia\r\nTEL;TYPE=cell:+34 600 111 222\r\nEND:VCARD\r\n"

type fixedUploader struct {
	text string
	loc  *model.Location
}

func (u *fixedUploader) Send(_ context.Context, _ model.Photo, loc *model.Location) (string, error) {
	u.loc = loc
	return u.text, nil
}

func TestRunSnap_FileToEventICS(t *testing.T) {
	dir := t.TempDir()
	photo := filepath.Join(dir, "card.jpg")
	if err := os.WriteFile(photo, []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, 0o644); err != nil {
		t.Fatalf("write photo: %v", err)
	}

	snapFile, snapCamera, snapPrint = photo, false, true
	t.Cleanup(func() { snapFile, snapCamera, snapPrint = "", false, false })

	var alerts bytes.Buffer
	up := &fixedUploader{text: cardVCF}
	comp := app.New(app.Deps{
		Locator:  geo.Static{Location: model.Location{Latitude: 1.5, Longitude: 2.25}},
		Uploader: up,
		Saver:    export.Dir{Path: dir},
		Notifier: notify.NewWriter(&alerts),
	})

	var out bytes.Buffer
	if err := runSnap(context.Background(), comp, nil, strings.NewReader(""), &out); err != nil {
		t.Fatalf("runSnap: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, export.FileName))
	if err != nil {
		t.Fatalf("read event.ics: %v", err)
	}
	if string(got) != cardVCF {
		t.Fatalf("saved body mismatch: %q", got)
	}
	if up.loc == nil || up.loc.Latitude != 1.5 {
		t.Fatalf("location not forwarded: %+v", up.loc)
	}
	if !strings.Contains(out.String(), "Contact: Ana Garcia (+34 600 111 222)") {
		t.Fatalf("preview missing: %q", out.String())
	}
	if strings.TrimSpace(alerts.String()) != app.MsgDownloaded {
		t.Fatalf("alert mismatch: %q", alerts.String())
	}
}

type recordingImporter struct {
	bodies []string
}

func (r *recordingImporter) Save(_ context.Context, _, _ string, data []byte) error {
	r.bodies = append(r.bodies, string(data))
	return nil
}

func TestRunSnap_ImportsAfterSaving(t *testing.T) {
	dir := t.TempDir()
	snapFile, snapCamera = "-", false
	t.Cleanup(func() { snapFile = "" })

	imp := &recordingImporter{}
	comp := app.New(app.Deps{
		Uploader: &fixedUploader{text: "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"},
		Saver:    export.Dir{Path: dir},
		Notifier: notify.NewWriter(&bytes.Buffer{}),
	})
	png := bytes.NewReader([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	if err := runSnap(context.Background(), comp, imp, png, &bytes.Buffer{}); err != nil {
		t.Fatalf("runSnap: %v", err)
	}
	if len(imp.bodies) != 1 {
		t.Fatalf("expected one import, got %d", len(imp.bodies))
	}
	if _, err := os.Stat(filepath.Join(dir, export.FileName)); err != nil {
		t.Fatalf("event.ics not saved: %v", err)
	}
}

func TestRunSnap_EmptyStdin(t *testing.T) {
	snapFile, snapCamera = "-", false
	t.Cleanup(func() { snapFile = "" })

	comp := app.New(app.Deps{Uploader: &fixedUploader{}})
	if err := runSnap(context.Background(), comp, nil, strings.NewReader(""), &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for empty stdin")
	}
}

func TestHashPassword(t *testing.T) {
	pw, err := readPassword(strings.NewReader("hunter2\n"), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	hash, err := hashPassword(pw)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")); err != nil {
		t.Fatalf("hash does not verify: %v", err)
	}
	if _, err := hashPassword(nil); err == nil {
		t.Fatalf("expected error for empty password")
	}
}

func TestNewLocator(t *testing.T) {
	cfg := config.DefaultConfig()

	cfg.Geolocation.Provider = "none"
	if newLocator(cfg) != nil {
		t.Fatalf("provider none must mean no geolocation")
	}

	cfg.Geolocation.Provider = "static"
	cfg.Geolocation.Latitude = 10
	loc, err := newLocator(cfg).CurrentPosition(context.Background())
	if err != nil || loc.Latitude != 10 {
		t.Fatalf("static locator mismatch: %+v %v", loc, err)
	}

	cfg.Geolocation.Provider = "geoclue"
	if _, ok := newLocator(cfg).(*geo.GeoClue); !ok {
		t.Fatalf("expected GeoClue locator")
	}
}
