package filestages

import (
	"strings"
	"testing"
	"time"

	"github.com/dcshock/scrapepipe/pipeline"
	"github.com/stretchr/testify/require"
)

const calendar = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//City//Events//EN
BEGIN:VEVENT
UID:evt-1
SUMMARY:Jazz night
LOCATION:Main library
DTSTART:20240105T190000Z
DTEND:20240105T210000Z
DESCRIPTION:Bring a chair.
Doors open at 6.
URL:https://example.org/e/1
END:VEVENT
BEGIN:VEVENT
UID:evt-2
SUMMARY:Market
DTSTART;VALUE=DATE:20240106
END:VEVENT
END:VCALENDAR
`

func TestFoldDescriptions(t *testing.T) {
	got := foldDescriptions("A:1\nDESCRIPTION:x\ny\n\n already folded\nB:2")
	require.Equal(t, "A:1\r\nDESCRIPTION:x\r\n  y\r\n already folded\r\nB:2\r\n", got)
}

func TestEvents(t *testing.T) {
	events, err := Events(calendar, nil)
	require.NoError(t, err)
	require.Len(t, events, 2)

	first := events[0]
	require.Equal(t, EventKeys, first.Keys())
	require.Equal(t, "evt-1", first.GetOr("uid", nil))
	require.Equal(t, "https://example.org/e/1", first.GetOr("url", nil))
	require.Equal(t, "Main library", first.GetOr("location", nil))
	require.Equal(t, "Bring a chair. Doors open at 6.", first.GetOr("description", nil))
	start, err := pipeline.Field[time.Time](first, "dtstart")
	require.NoError(t, err)
	require.True(t, start.Equal(time.Date(2024, 1, 5, 19, 0, 0, 0, time.UTC)), "dtstart %v", start)

	second := events[1]
	v, ok := second.Get("location")
	require.True(t, ok)
	require.Nil(t, v)
	require.Nil(t, second.GetOr("dtend", "unset"))
	day, err := pipeline.Field[time.Time](second, "dtstart")
	require.NoError(t, err)
	require.Equal(t, "2024-01-06", day.Format(time.DateOnly))
}

func TestParseICalendar_Flattened(t *testing.T) {
	out, err := runStages(t, nil, pipeline.Values(strings.NewReader(calendar)), ParseICalendar(nil), pipeline.Flatten())
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "Market", out[1].(*pipeline.Record).GetOr("summary", nil))
}

func TestParseICalendar_Invalid(t *testing.T) {
	_, err := runStages(t, nil, pipeline.Values("BEGIN:VCALENDAR\nnot a property\n"), ParseICalendar(time.UTC))
	require.ErrorContains(t, err, "parse_icalendar")
}
