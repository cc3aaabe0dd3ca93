package carrier

import (
	"fmt"
	"slices"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/tidwall/gjson"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/ports"
)

// timeZones maps the North American abbreviations carriers send alongside
// local times.
var timeZones = map[string]int{
	"UTC": 0, "GMT": 0, "Z": 0,
	"NST": -3*60 - 30, "NDT": -2*60 - 30,
	"AST": -4 * 60, "ADT": -3 * 60,
	"EST": -5 * 60, "EDT": -4 * 60,
	"CST": -6 * 60, "CDT": -5 * 60,
	"MST": -7 * 60, "MDT": -6 * 60,
	"PST": -8 * 60, "PDT": -7 * 60,
	"AKST": -9 * 60, "AKDT": -8 * 60,
	"HST": -10 * 60,
}

// regionZones maps US states and territories and Canadian provinces to the
// zone most of the region observes.
var regionZones = map[string]string{
	"CT": "America/New_York", "DE": "America/New_York", "DC": "America/New_York",
	"FL": "America/New_York", "GA": "America/New_York", "KY": "America/New_York",
	"ME": "America/New_York", "MD": "America/New_York", "MA": "America/New_York",
	"MI": "America/Detroit", "NH": "America/New_York", "NJ": "America/New_York",
	"NY": "America/New_York", "NC": "America/New_York", "OH": "America/New_York",
	"PA": "America/New_York", "RI": "America/New_York", "SC": "America/New_York",
	"VT": "America/New_York", "VA": "America/New_York", "WV": "America/New_York",
	"IN": "America/Indiana/Indianapolis",
	"AL": "America/Chicago", "AR": "America/Chicago", "IL": "America/Chicago",
	"IA": "America/Chicago", "KS": "America/Chicago", "LA": "America/Chicago",
	"MN": "America/Chicago", "MS": "America/Chicago", "MO": "America/Chicago",
	"NE": "America/Chicago", "ND": "America/Chicago", "OK": "America/Chicago",
	"SD": "America/Chicago", "TN": "America/Chicago", "TX": "America/Chicago",
	"WI": "America/Chicago",
	"CO": "America/Denver", "MT": "America/Denver", "NM": "America/Denver",
	"UT": "America/Denver", "WY": "America/Denver", "ID": "America/Boise",
	"AZ": "America/Phoenix",
	"CA": "America/Los_Angeles", "NV": "America/Los_Angeles",
	"OR": "America/Los_Angeles", "WA": "America/Los_Angeles",
	"AK": "America/Anchorage", "HI": "Pacific/Honolulu",
	"PR": "America/Puerto_Rico", "VI": "America/St_Thomas", "GU": "Pacific/Guam",

	"NL": "America/St_Johns", "NS": "America/Halifax", "NB": "America/Moncton",
	"PE": "America/Halifax", "QC": "America/Toronto", "ON": "America/Toronto",
	"MB": "America/Winnipeg", "SK": "America/Regina", "AB": "America/Edmonton",
	"BC": "America/Vancouver", "YT": "America/Whitehorse", "NT": "America/Edmonton",
	"NU": "America/Iqaluit",
}

// regionLocation returns the zone of a state or province code. Unknown or
// empty regions fall back to UTC.
func regionLocation(region string) *time.Location {
	name, ok := regionZones[strings.ToUpper(strings.TrimSpace(region))]
	if !ok {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// zoneFor resolves an abbreviation or a "-05:00" style offset.
func zoneFor(name string) (*time.Location, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return time.UTC, nil
	}
	if mins, ok := timeZones[name]; ok {
		return time.FixedZone(name, mins*60), nil
	}
	if t, err := time.Parse("-07:00", name); err == nil {
		_, off := t.Zone()
		return time.FixedZone(name, off), nil
	}
	return nil, fmt.Errorf("unknown time zone %q", name)
}

// parseLocal parses value with layout in zone and converts the result to UTC.
func parseLocal(layout, value, zone string) (time.Time, error) {
	loc, err := zoneFor(zone)
	if err != nil {
		return time.Time{}, err
	}
	return parseIn(layout, value, loc)
}

// parseIn parses value with layout in loc and converts the result to UTC.
func parseIn(layout, value string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(layout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// parseFlexible tries RFC 3339 first, then the zone-less ISO forms carriers
// use, interpreted as UTC.
func parseFlexible(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

func optionalTime(t time.Time, err error) *time.Time {
	if err != nil || t.IsZero() {
		return nil
	}
	return &t
}

func coordinates(lat, lng gjson.Result) *domain.Coordinates {
	if !lat.Exists() || !lng.Exists() {
		return nil
	}
	c := domain.Coordinates{Lat: lat.Float(), Lng: lng.Float()}
	if c.Lat == 0 && c.Lng == 0 {
		return nil
	}
	return &c
}

// nonEmpty returns loc, or nil when it carries nothing.
func nonEmpty(loc *domain.Location) *domain.Location {
	if loc.IsZero() {
		return nil
	}
	return loc
}

// oldestFirst puts events in chronological adapter order. Every supported
// carrier lists events newest first.
func oldestFirst(events []ports.RawEvent) []ports.RawEvent {
	slices.Reverse(events)
	return events
}
