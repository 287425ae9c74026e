package formatters

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"immich-sorter/internal/immich"
)

type ImageDateTime struct{}

func (ImageDateTime) Name() string { return "date-time" }

func (ImageDateTime) Format(ass immich.Asset) string {
	t, ok := localTime(ass)
	if !ok {
		return ""
	}

	// Format based on how long ago the asset was.
	elapsed := time.Since(t)
	switch {
	case elapsed < 1*humanize.Week:
		return t.Format("Monday 3:04 PM")
	case elapsed < 3*humanize.Month:
		return humanize.Time(t)
	default:
		return t.Format("January 2, 2006")
	}
}

type Date struct{}

func (Date) Name() string { return "date" }

func (Date) Format(ass immich.Asset) string {
	if t, ok := localTime(ass); ok {
		return t.Format(time.DateOnly)
	}
	return ""
}

type Time struct{}

func (Time) Name() string { return "time" }

func (Time) Format(ass immich.Asset) string {
	if t, ok := localTime(ass); ok {
		return t.Format("15:04")
	}
	return ""
}

// localTime returns the capture time in the asset's time zone. If the zone
// can't be parsed the time is returned as immich reported it.
func localTime(ass immich.Asset) (time.Time, bool) {
	t := ass.CapturedAt
	if t.IsZero() {
		return t, false
	}
	if ass.TimeZone == "" {
		return t, true
	}
	loc, err := parseTimeZone(ass.TimeZone)
	if err != nil {
		slog.Debug("failed to parse timezone",
			"error", err,
			"timezone", ass.TimeZone,
		)
		return t, true
	}
	return t.In(loc), true
}

// parseTimeZone is a helper function to parse the EXIF timezone string into a
// time.Location. It first tries to load the location directly, and if that
// doesn't work, it tries parsing it as a UTC offset.
func parseTimeZone(tz string) (*time.Location, error) {
	// First try loading it as a location.
	if loc, err := time.LoadLocation(tz); err == nil {
		return loc, nil
	}
	// Then try parsing it as a UTC offset in the format "UTC-6" or "UTC+9"
	if len(tz) < 4 || tz[:3] != "UTC" {
		return nil, errors.New("unexpected timezone format")
	}

	hours, err := strconv.Atoi(tz[3:])
	if err != nil {
		return nil, err
	}

	seconds := hours * 60 * 60
	return time.FixedZone(tz, seconds), nil
}
