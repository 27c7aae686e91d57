package query

import (
	"fmt"
	"strings"
	"time"
)

const (
	flightsTable      = "flights_data4"
	stateVectorsTable = "state_vectors_data4"
	rollcallTable     = "rollcall_replies_data4"
)

// BuildSQL renders the Trino SQL for a query of type t.
func BuildSQL(p Params, t Type) (string, error) {
	start, stop, err := p.TimeRange()
	if err != nil {
		return "", err
	}
	if !stop.After(start) {
		return "", ErrStopBeforeStart
	}

	var b strings.Builder
	switch t {
	case Trajectory:
		buildStateVectors(&b, p, start, stop)
	case RawData:
		buildRollcall(&b, p, start, stop)
	case Flights:
		buildFlights(&b, p, start, stop)
	default:
		return "", fmt.Errorf("unknown query type: %s", t)
	}
	if p.Limit != nil && *p.Limit > 0 {
		fmt.Fprintf(&b, "\nLIMIT %d", *p.Limit)
	}
	return b.String(), nil
}

func buildFlights(b *strings.Builder, p Params, start, stop time.Time) {
	b.WriteString("SELECT icao24, callsign, firstseen, lastseen, estdepartureairport, estarrivalairport, day\n")
	b.WriteString("FROM " + flightsTable + "\n")
	fmt.Fprintf(b, "WHERE day >= %d AND day <= %d\n", floorTo(start, 86400), stop.Unix())
	fmt.Fprintf(b, "  AND firstseen >= %d AND lastseen <= %d", start.Unix(), stop.Unix())
	writeIdentityFilters(b, p)
	writeAirportFilters(b, p, "estdepartureairport", "estarrivalairport")
	b.WriteString("\nORDER BY firstseen")
}

func buildStateVectors(b *strings.Builder, p Params, start, stop time.Time) {
	b.WriteString("SELECT time, icao24, lat, lon, velocity, heading, vertrate, callsign, onground, baroaltitude, geoaltitude\n")
	b.WriteString("FROM " + stateVectorsTable + "\n")
	fmt.Fprintf(b, "WHERE hour >= %d AND hour <= %d\n", floorTo(start, 3600), stop.Unix())
	fmt.Fprintf(b, "  AND time >= %d AND time <= %d", start.Unix(), stop.Unix())
	writeIdentityFilters(b, p)
	writeBounds(b, p.Bounds)
	writeFlightSubquery(b, p, start, stop)
	b.WriteString("\nORDER BY time")
}

func buildRollcall(b *strings.Builder, p Params, start, stop time.Time) {
	b.WriteString("SELECT mintime, maxtime, icao24, rawmsg, msgcount\n")
	b.WriteString("FROM " + rollcallTable + "\n")
	fmt.Fprintf(b, "WHERE hour >= %d AND hour <= %d\n", floorTo(start, 3600), stop.Unix())
	fmt.Fprintf(b, "  AND mintime >= %d AND maxtime <= %d", start.Unix(), stop.Unix())
	if p.ICAO24 != "" {
		fmt.Fprintf(b, "\n  AND icao24 = %s", quote(strings.ToLower(p.ICAO24)))
	}
	writeFlightSubquery(b, p, start, stop)
	b.WriteString("\nORDER BY mintime")
}

func writeIdentityFilters(b *strings.Builder, p Params) {
	if p.ICAO24 != "" {
		fmt.Fprintf(b, "\n  AND icao24 = %s", quote(strings.ToLower(p.ICAO24)))
	}
	if p.Callsign != "" {
		fmt.Fprintf(b, "\n  AND trim(callsign) = %s", quote(strings.ToUpper(p.Callsign)))
	}
}

func writeAirportFilters(b *strings.Builder, p Params, dep, arr string) {
	if p.DepartureAirport != "" {
		fmt.Fprintf(b, "\n  AND %s = %s", dep, quote(strings.ToUpper(p.DepartureAirport)))
	}
	if p.ArrivalAirport != "" {
		fmt.Fprintf(b, "\n  AND %s = %s", arr, quote(strings.ToUpper(p.ArrivalAirport)))
	}
	if p.Airport != "" {
		a := quote(strings.ToUpper(p.Airport))
		fmt.Fprintf(b, "\n  AND (%s = %s OR %s = %s)", dep, a, arr, a)
	}
}

// writeFlightSubquery restricts state vectors and raw messages to aircraft
// seen on flights matching the airport filters.
func writeFlightSubquery(b *strings.Builder, p Params, start, stop time.Time) {
	if p.DepartureAirport == "" && p.ArrivalAirport == "" && p.Airport == "" {
		return
	}
	var sub strings.Builder
	fmt.Fprintf(&sub, "SELECT icao24 FROM %s WHERE day >= %d AND day <= %d", flightsTable, floorTo(start, 86400), stop.Unix())
	writeAirportFilters(&sub, p, "estdepartureairport", "estarrivalairport")
	fmt.Fprintf(b, "\n  AND icao24 IN (%s)", strings.ReplaceAll(sub.String(), "\n  ", " "))
}

func writeBounds(b *strings.Builder, bounds *Bounds) {
	if bounds == nil {
		return
	}
	fmt.Fprintf(b, "\n  AND lon BETWEEN %g AND %g AND lat BETWEEN %g AND %g",
		bounds.West, bounds.East, bounds.South, bounds.North)
}

func floorTo(t time.Time, seconds int64) int64 {
	u := t.Unix()
	return u - u%seconds
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
