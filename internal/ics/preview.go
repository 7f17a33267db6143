package ics

import (
	"strings"
	"time"

	"github.com/emersion/go-vcard"

	appLog "pic2contact/internal/log"
)

// Kind tells the UI how to render a calendar result.
type Kind string

const (
	KindCalendar Kind = "calendar"
	KindContact  Kind = "contact"
	KindText     Kind = "text"
)

// Contact is what the backend extracted when it answers with a vCard.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// EventPreview summarises one VEVENT with its next few occurrences.
type EventPreview struct {
	Summary     string       `json:"summary"`
	Location    string       `json:"location,omitempty"`
	Description string       `json:"description,omitempty"`
	AllDay      bool         `json:"all_day"`
	Start       time.Time    `json:"start"`
	End         time.Time    `json:"end"`
	Upcoming    []Occurrence `json:"upcoming,omitempty"`
}

// Preview is a structured reading of a CalendarResult. The raw text stays
// the source of truth; Preview only feeds the result panel.
type Preview struct {
	Kind    Kind           `json:"kind"`
	Contact *Contact       `json:"contact,omitempty"`
	Events  []EventPreview `json:"events,omitempty"`
}

// upcomingPerEvent is how many occurrences a recurring event shows.
const upcomingPerEvent = 3

// BuildPreview inspects a backend response. vCards (which the backend
// labels text/calendar) are read for name and phone. iCalendar bodies are
// parsed into events. Anything else is shown as plain text.
func BuildPreview(body string, now time.Time, displayLoc *time.Location) Preview {
	trimmed := strings.TrimSpace(body)
	switch {
	case strings.HasPrefix(strings.ToUpper(trimmed), "BEGIN:VCARD"):
		c := ParseContact(trimmed)
		return Preview{Kind: KindContact, Contact: &c}

	case strings.HasPrefix(strings.ToUpper(trimmed), "BEGIN:VCALENDAR"):
		events, err := ParseEvents([]byte(body))
		if err != nil {
			appLog.Warn("calendar result not parseable, showing raw text", "err", err)
			return Preview{Kind: KindText}
		}
		p := Preview{Kind: KindCalendar}
		for _, ev := range events {
			p.Events = append(p.Events, EventPreview{
				Summary:     ev.Summary,
				Location:    ev.Location,
				Description: ev.Description,
				AllDay:      ev.AllDay,
				Start:       ev.Start,
				End:         ev.End,
				Upcoming:    upcoming(ev, now, displayLoc),
			})
		}
		return p
	}
	return Preview{Kind: KindText}
}

func upcoming(ev ParsedEvent, now time.Time, displayLoc *time.Location) []Occurrence {
	if ev.RawRRule == "" {
		return nil
	}
	return NextOccurrences(ev, now, upcomingPerEvent, displayLoc)
}

// ParseContact reads the formatted name and preferred phone of a vCard.
func ParseContact(card string) Contact {
	vc, err := vcard.NewDecoder(strings.NewReader(card)).Decode()
	if err != nil {
		appLog.Warn("vcard not decodable", "err", err)
		return Contact{}
	}

	c := Contact{Name: strings.TrimSpace(vc.PreferredValue(vcard.FieldFormattedName))}
	if tel := vc.Preferred(vcard.FieldTelephone); tel != nil {
		c.Phone = normalizePhone(tel)
	}
	return c
}

// normalizePhone keeps what follows the last colon of a URI value such as
// "tel:+34 600". A number with parameters is kept as written; a bare one is
// reduced to its digits.
func normalizePhone(tel *vcard.Field) string {
	v := strings.TrimSpace(tel.Value)
	if i := strings.LastIndex(v, ":"); i >= 0 {
		return strings.TrimSpace(v[i+1:])
	}
	if len(tel.Params) > 0 {
		return v
	}
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
