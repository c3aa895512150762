package filestages

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/dcshock/scrapepipe/pipeline"
	ics "github.com/emersion/go-ical"
)

// EventKeys are the record keys produced by ParseICalendar, in order.
var EventKeys = []string{"uid", "url", "summary", "location", "dtstart", "dtend", "description"}

var eventProps = map[string]string{
	"uid":         ics.PropUID,
	"url":         ics.PropURL,
	"summary":     ics.PropSummary,
	"location":    ics.PropLocation,
	"dtstart":     ics.PropDateTimeStart,
	"dtend":       ics.PropDateTimeEnd,
	"description": ics.PropDescription,
}

// ParseICalendar returns a stage that decodes an iCalendar document and
// outputs its events as []*pipeline.Record (follow it with
// pipeline.Flatten() for one record per event). Every record carries all of
// EventKeys: dtstart and dtend hold a time.Time, the others a string, and
// absent properties are nil. Floating times are read in loc, or UTC when loc
// is nil.
func ParseICalendar(loc *time.Location) pipeline.Stage {
	if loc == nil {
		loc = time.UTC
	}
	return pipeline.Transform("parse_icalendar", func(ctx context.Context, input any) (any, error) {
		r, err := readerOf(input)
		if err != nil {
			return nil, fmt.Errorf("parse_icalendar: %w", err)
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("parse_icalendar: %w", err)
		}
		events, err := Events(string(raw), loc)
		if err != nil {
			return nil, fmt.Errorf("parse_icalendar: %w", err)
		}
		return events, nil
	})
}

// Events decodes every VEVENT of an iCalendar document into a record.
func Events(doc string, loc *time.Location) ([]*pipeline.Record, error) {
	if loc == nil {
		loc = time.UTC
	}
	cal, err := ics.NewDecoder(strings.NewReader(foldDescriptions(doc))).Decode()
	if err != nil {
		return nil, err
	}
	var out []*pipeline.Record
	for _, comp := range cal.Children {
		if comp.Name != ics.CompEvent {
			continue
		}
		rec := pipeline.NewRecord()
		for _, key := range EventKeys {
			prop := comp.Props.Get(eventProps[key])
			if prop == nil {
				rec.Set(key, nil)
				continue
			}
			switch key {
			case "dtstart", "dtend":
				t, err := prop.DateTime(loc)
				if err != nil {
					return nil, fmt.Errorf("event %v: %s: %w", rec.GetOr("uid", "?"), key, err)
				}
				rec.Set(key, t)
			default:
				text, err := prop.Text()
				if err != nil {
					text = prop.Value
				}
				rec.Set(key, text)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

var propertyLine = regexp.MustCompile(`^([A-Z][A-Z0-9-]*)[;:]`)

// foldDescriptions repairs feeds that break DESCRIPTION values over raw
// lines: every line between a DESCRIPTION property and the next property is
// turned into a folded continuation line that keeps one space of separation
// once unfolded. Blank lines are dropped and lines are joined with CRLF.
func foldDescriptions(doc string) string {
	lines := strings.Split(strings.ReplaceAll(doc, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	inside := false
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if m := propertyLine.FindStringSubmatch(line); m != nil {
			inside = m[1] == "DESCRIPTION"
			out = append(out, line)
			continue
		}
		if line == "" {
			continue
		}
		if inside && !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			line = "  " + line
		}
		out = append(out, line)
	}
	return strings.Join(out, "\r\n") + "\r\n"
}
