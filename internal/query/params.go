// Package query models OpenSky query parameters and turns them into
// engine SQL, human-readable previews and time presets.
package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the timestamp format used for start and stop.
const TimeLayout = "2006-01-02 15:04:05"

const dateLayout = "2006-01-02"

// Type selects which OpenSky dataset a query reads.
type Type string

const (
	Flights    Type = "flights"
	Trajectory Type = "trajectory"
	RawData    Type = "rawdata"
)

// DefaultType is used when a request does not name a query type.
const DefaultType = Flights

// ParseType maps a query type tag to a Type. An empty tag yields DefaultType.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultType, nil
	case "flights", "flightlist":
		return Flights, nil
	case "trajectory", "history", "state_vectors":
		return Trajectory, nil
	case "rawdata", "raw":
		return RawData, nil
	default:
		return "", fmt.Errorf("unknown query type: %s", s)
	}
}

// Hint returns the canned description shown for a query type.
func (t Type) Hint() string {
	switch t {
	case Trajectory:
		return "Returns state vectors (position, altitude, velocity, heading) along the flight path."
	case RawData:
		return "Returns raw Mode S rollcall replies received by the OpenSky sensor network."
	default:
		return "Returns a list of flights with departure and arrival airports and first/last seen times."
	}
}

// Bounds is a geographic rectangle in degrees.
type Bounds struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// BoundsFromSlice builds Bounds from [west, south, east, north]. Any other
// length yields nil.
func BoundsFromSlice(v []float64) *Bounds {
	if len(v) != 4 {
		return nil
	}
	return &Bounds{West: v[0], South: v[1], East: v[2], North: v[3]}
}

// Slice returns the bounds as [west, south, east, north].
func (b Bounds) Slice() []float64 {
	return []float64{b.West, b.South, b.East, b.North}
}

// Params holds the filters of a single query. Zero values mean "not set".
type Params struct {
	ICAO24           string  `json:"icao24,omitempty"`
	Start            string  `json:"start,omitempty"`
	Stop             string  `json:"stop,omitempty"`
	Callsign         string  `json:"callsign,omitempty"`
	DepartureAirport string  `json:"departure_airport,omitempty"`
	ArrivalAirport   string  `json:"arrival_airport,omitempty"`
	Airport          string  `json:"airport,omitempty"`
	Limit            *int    `json:"limit,omitempty"`
	Bounds           *Bounds `json:"bounds,omitempty"`
}

// ParsedQuery is the result of turning free text into a query.
type ParsedQuery struct {
	Type   Type   `json:"query_type"`
	Hint   string `json:"hint"`
	Params Params `json:"params"`
}

var (
	ErrStartRequired   = errors.New("Start time is required")
	ErrAirportBounds   = errors.New("airport and bounds cannot be combined")
	ErrInvalidBounds   = errors.New("bounds must satisfy west <= east and south <= north")
	ErrInvalidLimit    = errors.New("limit must not be negative")
	ErrStopBeforeStart = errors.New("stop must be after start")
)

// Clone returns a deep copy of p.
func (p Params) Clone() Params {
	out := p
	if p.Limit != nil {
		l := *p.Limit
		out.Limit = &l
	}
	if p.Bounds != nil {
		b := *p.Bounds
		out.Bounds = &b
	}
	return out
}

// IsEmpty reports whether no filter is set.
func (p Params) IsEmpty() bool {
	return p == Params{}
}

// Validate checks the parameters before they are sent to the engine.
func (p Params) Validate() error {
	if p.Start == "" {
		return ErrStartRequired
	}
	start, err := ParseTime(p.Start)
	if err != nil {
		return fmt.Errorf("invalid start: %w", err)
	}
	if p.Stop != "" {
		stop, err := ParseTime(p.Stop)
		if err != nil {
			return fmt.Errorf("invalid stop: %w", err)
		}
		if !stop.After(start) {
			return ErrStopBeforeStart
		}
	}
	if p.Airport != "" && p.Bounds != nil {
		return ErrAirportBounds
	}
	if b := p.Bounds; b != nil && (b.West > b.East || b.South > b.North) {
		return ErrInvalidBounds
	}
	if p.Limit != nil && *p.Limit < 0 {
		return ErrInvalidLimit
	}
	return nil
}

// TimeRange returns the parsed start and stop in UTC. A missing stop
// defaults to one day after start.
func (p Params) TimeRange() (time.Time, time.Time, error) {
	if p.Start == "" {
		return time.Time{}, time.Time{}, ErrStartRequired
	}
	start, err := ParseTime(p.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
	}
	if p.Stop == "" {
		return start, start.Add(24 * time.Hour), nil
	}
	stop, err := ParseTime(p.Stop)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid stop: %w", err)
	}
	return start, stop, nil
}

// ParseTime accepts "YYYY-MM-DD HH:MM:SS" or "YYYY-MM-DD", interpreted as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(TimeLayout, s, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected %q, got %q", TimeLayout, s)
	}
	return t, nil
}

// Keys lists the parameter names accepted by Set.
var Keys = []string{
	"icao24", "start", "stop", "callsign", "departure_airport",
	"arrival_airport", "airport", "limit", "bounds",
}

// Set assigns a single parameter from its string form. An empty value
// clears it. Bounds are given as "west,south,east,north".
func (p *Params) Set(key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case "icao24":
		p.ICAO24 = strings.ToLower(value)
	case "start":
		p.Start = value
	case "stop":
		p.Stop = value
	case "callsign":
		p.Callsign = strings.ToUpper(value)
	case "departure_airport":
		p.DepartureAirport = strings.ToUpper(value)
	case "arrival_airport":
		p.ArrivalAirport = strings.ToUpper(value)
	case "airport":
		p.Airport = strings.ToUpper(value)
	case "limit":
		if value == "" {
			p.Limit = nil
			return nil
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid limit %q: %w", value, err)
		}
		p.Limit = &n
	case "bounds":
		if value == "" {
			p.Bounds = nil
			return nil
		}
		parts := strings.Split(value, ",")
		vals := make([]float64, 0, len(parts))
		for _, part := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return fmt.Errorf("invalid bounds %q: %w", value, err)
			}
			vals = append(vals, f)
		}
		b := BoundsFromSlice(vals)
		if b == nil {
			return fmt.Errorf("bounds need 4 values, got %d", len(vals))
		}
		p.Bounds = b
	default:
		return fmt.Errorf("Unknown parameter: %s", key)
	}
	return nil
}
