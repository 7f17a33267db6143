package model

import (
	"bytes"
	"errors"
	"testing"
)

func TestDataURLRoundTrip(t *testing.T) {
	t.Parallel()

	raw := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}
	p := EncodeDataURL("image/jpeg", raw)

	mime, data, err := p.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mime != "image/jpeg" {
		t.Fatalf("mime mismatch: %s", mime)
	}
	if !bytes.Equal(data, raw) {
		t.Fatalf("payload mismatch: %v", data)
	}
}

func TestDecodeDataURL_Rejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "image/jpeg;base64,AAA", "data:image/png;base64", "data:image/png;base64,@@@"} {
		if _, _, err := DecodeDataURL(in); !errors.Is(err, ErrBadDataURL) {
			t.Fatalf("DecodeDataURL(%q): expected ErrBadDataURL, got %v", in, err)
		}
	}
}

func TestDecodeDataURL_PlainAndParams(t *testing.T) {
	t.Parallel()

	mime, data, err := DecodeDataURL("data:text/calendar;charset=utf-8,BEGIN:VCALENDAR")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mime != "text/calendar" || string(data) != "BEGIN:VCALENDAR" {
		t.Fatalf("unexpected result: %s %q", mime, data)
	}
}

func TestLocationString(t *testing.T) {
	t.Parallel()

	got := Location{Latitude: 37.422, Longitude: -122.084}.String()
	if got != "37.422000, -122.084000" {
		t.Fatalf("location text mismatch: %s", got)
	}
}
