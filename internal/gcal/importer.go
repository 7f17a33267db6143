package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"pic2contact/internal/config"
	"pic2contact/internal/ics"
	appLog "pic2contact/internal/log"
)

// ErrNoEvents means the result holds no VEVENT, e.g. a vCard.
var ErrNoEvents = errors.New("calendar result has no events")

// Importer adds every event of a calendar result to one Google calendar.
// It satisfies export.Saver.
type Importer struct {
	srv        *calendar.Service
	calendarID string
}

// NewImporter builds an authorized Importer from the config section. The
// token must already exist (see Login).
func NewImporter(ctx context.Context, cfg *config.GoogleCalendarConfig) (*Importer, error) {
	if cfg == nil {
		return nil, errors.New("google calendar not configured")
	}
	conf, err := LoadOAuthConfig(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	tok, err := LoadToken(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("load token (run google-login first): %w", err)
	}
	return NewImporterWithClient(ctx, conf.Client(ctx, tok), cfg.CalendarID)
}

func NewImporterWithClient(ctx context.Context, client *http.Client, calendarID string, opts ...option.ClientOption) (*Importer, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Importer{srv: srv, calendarID: calendarID}, nil
}

func (im *Importer) Save(ctx context.Context, name, mimeType string, data []byte) error {
	events, err := ics.ParseEvents(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	if len(events) == 0 {
		return ErrNoEvents
	}

	for _, ev := range events {
		item := toAPIEvent(ev)
		got, err := im.srv.Events.Import(im.calendarID, item).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("import %q: %w", ev.Summary, err)
		}
		appLog.Info("event imported", "calendar", im.calendarID, "id", got.Id, "summary", ev.Summary)
	}
	return nil
}

// toAPIEvent maps a parsed VEVENT onto the Calendar API shape. Import needs
// an iCalUID, so one is generated when the backend sent none.
func toAPIEvent(ev ics.ParsedEvent) *calendar.Event {
	uid := ev.UID
	if uid == "" {
		uid = uuid.NewString() + "@pic2contact"
	}

	out := &calendar.Event{
		ICalUID:     uid,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
	}

	if ev.AllDay {
		out.Start = &calendar.EventDateTime{Date: ev.Start.Format("2006-01-02")}
		out.End = &calendar.EventDateTime{Date: ev.End.Format("2006-01-02")}
	} else {
		tz := zoneName(ev.Start.Location())
		loc, _ := time.LoadLocation(tz)
		out.Start = &calendar.EventDateTime{DateTime: ev.Start.In(loc).Format(time.RFC3339), TimeZone: tz}
		out.End = &calendar.EventDateTime{DateTime: ev.End.In(loc).Format(time.RFC3339), TimeZone: tz}
	}

	if ev.RawRRule != "" {
		out.Recurrence = append(out.Recurrence, "RRULE:"+ev.RawRRule)
		if ex := exdateLine(ev); ex != "" {
			out.Recurrence = append(out.Recurrence, ex)
		}
	}
	return out
}

// zoneName returns an IANA name the API accepts. Local and fixed offsets
// have none, so they are sent as UTC.
func zoneName(loc *time.Location) string {
	if loc == nil {
		return "UTC"
	}
	name := loc.String()
	if name == "" || name == "Local" || !strings.Contains(name, "/") {
		return "UTC"
	}
	if _, err := time.LoadLocation(name); err != nil {
		return "UTC"
	}
	return name
}

func exdateLine(ev ics.ParsedEvent) string {
	if len(ev.ExDates) == 0 {
		return ""
	}
	parts := make([]string, 0, len(ev.ExDates))
	for _, t := range ev.ExDates {
		if ev.AllDay {
			parts = append(parts, t.Format("20060102"))
		} else {
			parts = append(parts, t.UTC().Format("20060102T150405Z"))
		}
	}
	if ev.AllDay {
		return "EXDATE;VALUE=DATE:" + strings.Join(parts, ",")
	}
	return "EXDATE:" + strings.Join(parts, ",")
}
