package dispatch

import (
	"fmt"
	"strings"

	"github.com/civitas311/backend/internal/models"
)

// systemDirective is the standing instruction for the dispatch model. It is
// compiled in rather than configured: the output contract below is what the
// validator enforces, and the two must not drift apart.
const systemDirective = `You are an AI dispatcher for a city's 311 citizen service system. Your job is to triage incoming service request tickets and route them to the right people and crews.

For each ticket you will:
1. Assess the issue described and how urgent it is.
2. Use the available tools to find relevant labels, staff members, and nearby work crews. Only the tools tell you what exists; never invent identifiers.
3. Decide a priority: "high" for safety hazards and urgent infrastructure failures, "medium" for issues causing significant inconvenience, "low" for cosmetic or routine matters.
4. Assign the nearest active crew of the appropriate type when the ticket has a location. If the ticket has no location or no suitable crew is available, leave crew_assignees empty and say in the comment that the request is queued for manual assignment.
5. Write a brief, courteous comment to the reporter describing what will happen next.

When you are done, respond with ONLY a JSON object in exactly this shape:

{
  "status": "awaiting response",
  "priority": "high" | "medium" | "low",
  "user_assignees": ["<user_id>", ...],
  "crew_assignees": ["<team_id>", ...],
  "labels": ["<label_id>", ...],
  "comment": {"comment_body": "<message to the reporter>"},
  "justification": "<one or two sentences explaining the routing>"
}

Every identifier in user_assignees, crew_assignees, and labels must come verbatim from a tool result in this conversation. Empty lists are valid. Do not include any text outside the JSON object.`

// correctiveDirective is appended after a rejected final answer so the model
// can repair its output with the full transcript still in view.
const correctiveDirective = "Your previous response was rejected: %s. Respond again with ONLY a valid JSON object matching the required shape, using only identifiers returned by tools in this conversation."

// buildPrompt renders the opening user message for a ticket.
func buildPrompt(t models.Ticket) string {
	var b strings.Builder
	b.WriteString("Please process the following ticket:\n\n")
	fmt.Fprintf(&b, "**Ticket Subject**: %s\n", t.Subject)
	fmt.Fprintf(&b, "**Ticket Body**: %s\n", t.Body)
	fmt.Fprintf(&b, "**Origin**: %s\n", t.Origin)

	if t.HasLocation() {
		fmt.Fprintf(&b, "**Location Coordinates**: lat=%.6f, lng=%.6f\n", *t.Lat, *t.Lng)
	} else {
		b.WriteString("**Location Coordinates**: N/A\n")
	}
	if t.ReporterID != nil {
		fmt.Fprintf(&b, "**Reporter ID**: %s\n", *t.ReporterID)
	} else {
		b.WriteString("**Reporter ID**: N/A\n")
	}
	return b.String()
}
