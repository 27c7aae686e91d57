package agent

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/user/skyq/internal/query"
)

// ParseError reports model output that could not be turned into a query,
// including the model classifying the question as unclear.
type ParseError struct {
	Message string
	// Unclear is set when the model itself declined the question.
	Unclear bool
}

func (e *ParseError) Error() string { return e.Message }

const defaultUnclearReason = "Query not clear"

// rawQuery is the loosely typed shape the model is asked to emit. Missing
// and unknown fields are tolerated.
type rawQuery struct {
	Status           string    `json:"status"`
	Reason           string    `json:"reason"`
	QueryType        string    `json:"query_type"`
	Hint             string    `json:"hint"`
	ICAO24           *string   `json:"icao24"`
	Callsign         *string   `json:"callsign"`
	Start            *string   `json:"start"`
	Stop             *string   `json:"stop"`
	DepartureAirport *string   `json:"departure_airport"`
	ArrivalAirport   *string   `json:"arrival_airport"`
	Airport          *string   `json:"airport"`
	Limit            flexInt   `json:"limit"`
	Bounds           []float64 `json:"bounds"`
}

// flexInt accepts a JSON number, a numeric string or null.
type flexInt struct {
	Value *int
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		f.Value = nil
		return nil
	}
	s = strings.Trim(s, `"`)
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("limit: %w", err)
	}
	v := int(n)
	f.Value = &v
	return nil
}

// parseResponse extracts and maps the model's JSON answer.
func parseResponse(content string) (*query.ParsedQuery, error) {
	obj, ok := extractObject(content)
	if !ok {
		return nil, &ParseError{Message: "No JSON object found in response"}
	}

	var raw rawQuery
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("JSON parse error: %v", err)}
	}

	if strings.EqualFold(raw.Status, "unclear") {
		reason := raw.Reason
		if reason == "" {
			reason = defaultUnclearReason
		}
		return nil, &ParseError{Message: "Query unclear: " + reason, Unclear: true}
	}

	qt, err := query.ParseType(raw.QueryType)
	if err != nil {
		qt = query.DefaultType
	}

	hint := strings.TrimSpace(raw.Hint)
	if hint == "" {
		hint = qt.Hint()
	}

	p := query.Params{
		ICAO24:           strings.ToLower(str(raw.ICAO24)),
		Start:            str(raw.Start),
		Stop:             str(raw.Stop),
		Callsign:         strings.ToUpper(str(raw.Callsign)),
		DepartureAirport: strings.ToUpper(str(raw.DepartureAirport)),
		ArrivalAirport:   strings.ToUpper(str(raw.ArrivalAirport)),
		Airport:          strings.ToUpper(str(raw.Airport)),
		Limit:            raw.Limit.Value,
		Bounds:           query.BoundsFromSlice(raw.Bounds),
	}

	return &query.ParsedQuery{Type: qt, Hint: hint, Params: p}, nil
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
