package dispatch

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/civitas311/backend/internal/models"
)

var validate = validator.New()

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// extractJSON pulls a JSON object out of raw model text. Models wrap output
// in prose or code fences often enough that a bare unmarshal is not enough:
// try the whole string, then a fenced block, then the first balanced object.
func extractJSON(text string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return json.RawMessage(trimmed), true
	}

	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		if json.Valid([]byte(m[1])) {
			return json.RawMessage(m[1]), true
		}
	}

	if obj, ok := firstBalancedObject(text); ok && json.Valid([]byte(obj)) {
		return json.RawMessage(obj), true
	}
	return nil, false
}

// firstBalancedObject scans for the first top-level {...} span, honoring
// string literals and escapes.
func firstBalancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// wireDecision mirrors the decision contract with pointer fields so that
// absent and null keys can be told apart from present-but-empty values.
type wireDecision struct {
	Status        *string   `json:"status"`
	Priority      *string   `json:"priority"`
	UserAssignees *[]string `json:"user_assignees"`
	CrewAssignees *[]string `json:"crew_assignees"`
	Labels        *[]string `json:"labels"`
	Comment       *struct {
		CommentBody *string `json:"comment_body"`
	} `json:"comment"`
	Justification *string `json:"justification"`
}

// ParseDecision validates the model's final text against the decision
// contract and the set of resource identifiers the tools actually returned
// this run. Any identifier the model did not see from a tool is rejected.
func ParseDecision(text string, seenIDs []string) (models.DispatchDecision, error) {
	var dec models.DispatchDecision

	raw, ok := extractJSON(text)
	if !ok {
		return dec, &ValidationError{Reason: "unparsable output", Offending: truncate(text, 200)}
	}

	var wire wireDecision
	if err := json.Unmarshal(raw, &wire); err != nil {
		return dec, &ValidationError{Reason: "unparsable output", Offending: err.Error()}
	}

	switch {
	case wire.Status == nil:
		return dec, &ValidationError{Reason: "missing field", Offending: "status"}
	case wire.Priority == nil:
		return dec, &ValidationError{Reason: "missing field", Offending: "priority"}
	case wire.UserAssignees == nil:
		return dec, &ValidationError{Reason: "missing field", Offending: "user_assignees"}
	case wire.CrewAssignees == nil:
		return dec, &ValidationError{Reason: "missing field", Offending: "crew_assignees"}
	case wire.Labels == nil:
		return dec, &ValidationError{Reason: "missing field", Offending: "labels"}
	case wire.Comment == nil || wire.Comment.CommentBody == nil:
		return dec, &ValidationError{Reason: "missing field", Offending: "comment.comment_body"}
	case wire.Justification == nil:
		return dec, &ValidationError{Reason: "missing field", Offending: "justification"}
	}

	if *wire.Status != models.StatusAwaitingResponse {
		return dec, &ValidationError{Reason: "status must be \"awaiting response\"", Offending: *wire.Status}
	}
	switch *wire.Priority {
	case models.PriorityHigh, models.PriorityMedium, models.PriorityLow:
	default:
		return dec, &ValidationError{Reason: "priority must be high, medium, or low", Offending: *wire.Priority}
	}
	if strings.TrimSpace(*wire.Comment.CommentBody) == "" {
		return dec, &ValidationError{Reason: "comment body must not be empty", Offending: "comment.comment_body"}
	}

	seen := make(map[string]struct{}, len(seenIDs))
	for _, id := range seenIDs {
		seen[id] = struct{}{}
	}
	for _, lists := range [][]string{*wire.UserAssignees, *wire.CrewAssignees, *wire.Labels} {
		for _, id := range lists {
			if _, ok := seen[id]; !ok {
				return dec, &ValidationError{Reason: "unverified identifier", Offending: id}
			}
		}
	}

	dec = models.DispatchDecision{
		Status:        *wire.Status,
		Priority:      *wire.Priority,
		UserAssignees: *wire.UserAssignees,
		CrewAssignees: *wire.CrewAssignees,
		Labels:        *wire.Labels,
		Comment:       models.DecisionComment{Body: *wire.Comment.CommentBody},
		Justification: *wire.Justification,
	}
	if err := validate.Struct(dec); err != nil {
		return models.DispatchDecision{}, &ValidationError{Reason: "invalid decision fields", Offending: err.Error()}
	}
	return dec, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
