package agent

import (
	"bytes"
	"fmt"
	"text/template"
)

// DefaultPrompt is the built-in prompt template. It uses Go text/template
// syntax with PromptData fields: .Now, .Query
const DefaultPrompt = `You translate questions about air traffic into parameters for the OpenSky Network historical database.

Current local time: {{.Now}}

Resolve relative phrases such as "yesterday", "last night" or "this morning" against the current local time and write all timestamps as "YYYY-MM-DD HH:MM:SS".

Pick one query_type:
- "flights": a list of flights (departure/arrival airports, first and last seen)
- "trajectory": state vectors along flight paths (positions, altitude, speed)
- "rawdata": raw Mode S messages

Reply with a single flat JSON object and nothing else:

{
  "status": "ok",
  "query_type": "flights",
  "hint": "one sentence describing what the query returns",
  "icao24": "lowercase 24-bit transponder address or null",
  "callsign": "callsign or null",
  "start": "YYYY-MM-DD HH:MM:SS",
  "stop": "YYYY-MM-DD HH:MM:SS or null",
  "departure_airport": "ICAO airport code or null",
  "arrival_airport": "ICAO airport code or null",
  "airport": "ICAO airport code or null",
  "limit": null,
  "bounds": [west, south, east, north] or null
}

Use 4-letter ICAO airport codes (EDDF, not FRA). Never combine "airport" with "bounds".
If the question cannot be answered with these parameters, reply with {"status": "unclear", "reason": "what is missing"}.

Question: {{.Query}}`

// PromptData holds the values substituted into the prompt template.
type PromptData struct {
	Now   string
	Query string
}

func parseTemplate(text string) (*template.Template, error) {
	tmpl, err := template.New("agent").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return tmpl, nil
}

func render(tmpl *template.Template, data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}
