package ics

import (
	"time"

	"github.com/teambition/rrule-go"

	appLog "pic2contact/internal/log"
)

// maxScan caps how many instances are walked when an old recurring event
// is still far from the preview window.
const maxScan = 100000

// Occurrence is a single concrete instance of an event.
type Occurrence struct {
	UID     string    `json:"uid,omitempty"`
	Summary string    `json:"summary"`
	AllDay  bool      `json:"all_day"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// NextOccurrences returns up to limit occurrences of ev that end at or
// after from, converted into displayLoc. Non-recurring events yield at
// most one occurrence. RRULEs that fail to parse degrade to the single
// DTSTART instance.
func NextOccurrences(ev ParsedEvent, from time.Time, limit int, displayLoc *time.Location) []Occurrence {
	if limit <= 0 {
		return nil
	}
	if displayLoc == nil {
		displayLoc = time.Local
	}

	if ev.RawRRule == "" {
		if ev.End.Before(from) {
			return nil
		}
		return []Occurrence{makeOccurrence(ev, ev.Start, ev.End, displayLoc)}
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Warn("ics: unparseable RRULE, showing first instance only", "uid", ev.UID, "rrule", ev.RawRRule, "err", err)
		return []Occurrence{makeOccurrence(ev, ev.Start, ev.End, displayLoc)}
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	// Include instances that started before from but are still running.
	next := set.Iterator()
	out := make([]Occurrence, 0, limit)
	for scanned := 0; len(out) < limit && scanned < maxScan; scanned++ {
		start, ok := next()
		if !ok {
			break
		}
		end := start.Add(dur)
		if end.Before(from) {
			continue
		}
		out = append(out, makeOccurrence(ev, start, end, displayLoc))
	}
	return out
}

func makeOccurrence(ev ParsedEvent, start, end time.Time, displayLoc *time.Location) Occurrence {
	return Occurrence{
		UID:     ev.UID,
		Summary: ev.Summary,
		AllDay:  ev.AllDay,
		Start:   start.In(displayLoc),
		End:     end.In(displayLoc),
	}
}
