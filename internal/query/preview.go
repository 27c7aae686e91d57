package query

import (
	"fmt"
	"strings"
)

// Preview renders the query as the equivalent pyopensky Trino call, the
// form shown to users before they execute it.
func Preview(p Params, t Type) string {
	if p.Start == "" {
		return "# Error: Start time is required"
	}

	method := "flightlist"
	switch t {
	case Trajectory:
		method = "history"
	case RawData:
		method = "rawdata"
	}

	var args []string
	add := func(name, value string) {
		if value != "" {
			args = append(args, fmt.Sprintf("    %s=%q,", name, value))
		}
	}
	add("start", p.Start)
	add("stop", p.Stop)
	add("icao24", p.ICAO24)
	add("callsign", p.Callsign)
	add("departure_airport", p.DepartureAirport)
	add("arrival_airport", p.ArrivalAirport)
	add("airport", p.Airport)
	if b := p.Bounds; b != nil {
		args = append(args, fmt.Sprintf("    bounds=(%g, %g, %g, %g),", b.West, b.South, b.East, b.North))
	}
	if p.Limit != nil {
		args = append(args, fmt.Sprintf("    limit=%d,", *p.Limit))
	}

	var b strings.Builder
	b.WriteString("from pyopensky.trino import Trino\n\n")
	b.WriteString("trino = Trino()\n")
	fmt.Fprintf(&b, "df = trino.%s(\n", method)
	for _, a := range args {
		b.WriteString(a + "\n")
	}
	b.WriteString(")")
	return b.String()
}

// Describe summarizes the filters in one sentence.
func Describe(p Params) string {
	var parts []string
	if p.ICAO24 != "" {
		parts = append(parts, "aircraft "+p.ICAO24)
	}
	if p.Callsign != "" {
		parts = append(parts, "callsign "+p.Callsign)
	}
	if p.DepartureAirport != "" {
		parts = append(parts, "departing from "+p.DepartureAirport)
	}
	if p.ArrivalAirport != "" {
		parts = append(parts, "arriving at "+p.ArrivalAirport)
	}
	if p.Airport != "" {
		parts = append(parts, "via airport "+p.Airport)
	}

	timeRange := ""
	switch {
	case p.Start != "" && p.Stop != "":
		timeRange = fmt.Sprintf(" from %s to %s", p.Start, p.Stop)
	case p.Start != "":
		timeRange = " starting from " + p.Start
	}

	switch {
	case len(parts) > 0:
		return fmt.Sprintf("Looking for %s%s.", strings.Join(parts, ", "), timeRange)
	case timeRange != "":
		return fmt.Sprintf("Looking for all flights%s.", timeRange)
	default:
		return "I'll search for flights with those parameters."
	}
}
