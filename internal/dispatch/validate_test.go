package dispatch

import (
	"errors"
	"testing"

	"github.com/civitas311/backend/internal/models"
)

const goodDecision = `{
	"status": "awaiting response",
	"priority": "high",
	"user_assignees": [],
	"crew_assignees": ["crew-1"],
	"labels": ["label-1"],
	"comment": {"comment_body": "A tree crew is on the way."},
	"justification": "Fallen tree blocking a bike lane is a safety hazard."
}`

func TestParseDecision_Valid(t *testing.T) {
	dec, err := ParseDecision(goodDecision, []string{"crew-1", "label-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Priority != models.PriorityHigh {
		t.Fatalf("expected high, got %q", dec.Priority)
	}
	if len(dec.CrewAssignees) != 1 || dec.CrewAssignees[0] != "crew-1" {
		t.Fatalf("unexpected crew assignees: %v", dec.CrewAssignees)
	}
	if dec.Comment.Body != "A tree crew is on the way." {
		t.Fatalf("unexpected comment: %q", dec.Comment.Body)
	}
}

func TestParseDecision_FencedJSON(t *testing.T) {
	text := "Here is my decision:\n```json\n" + goodDecision + "\n```\nDone."
	if _, err := ParseDecision(text, []string{"crew-1", "label-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseDecision_EmbeddedJSON(t *testing.T) {
	text := "After reviewing the ticket I decided: " + goodDecision + " That is all."
	if _, err := ParseDecision(text, []string{"crew-1", "label-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseDecision_Unparsable(t *testing.T) {
	_, err := ParseDecision("I could not reach a decision.", nil)
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if valErr.Reason != "unparsable output" {
		t.Fatalf("unexpected reason: %q", valErr.Reason)
	}
}

func TestParseDecision_MissingFields(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"no status", `{"priority":"low","user_assignees":[],"crew_assignees":[],"labels":[],"comment":{"comment_body":"x"},"justification":"y"}`, "status"},
		{"no priority", `{"status":"awaiting response","user_assignees":[],"crew_assignees":[],"labels":[],"comment":{"comment_body":"x"},"justification":"y"}`, "priority"},
		{"null lists", `{"status":"awaiting response","priority":"low","user_assignees":null,"crew_assignees":[],"labels":[],"comment":{"comment_body":"x"},"justification":"y"}`, "user_assignees"},
		{"no comment body", `{"status":"awaiting response","priority":"low","user_assignees":[],"crew_assignees":[],"labels":[],"comment":{},"justification":"y"}`, "comment.comment_body"},
		{"no justification", `{"status":"awaiting response","priority":"low","user_assignees":[],"crew_assignees":[],"labels":[],"comment":{"comment_body":"x"}}`, "justification"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDecision(tc.text, nil)
			var valErr *ValidationError
			if !errors.As(err, &valErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if valErr.Reason != "missing field" || valErr.Offending != tc.want {
				t.Fatalf("expected missing field %q, got %v", tc.want, valErr)
			}
		})
	}
}

func TestParseDecision_BadStatus(t *testing.T) {
	text := `{"status":"resolved","priority":"low","user_assignees":[],"crew_assignees":[],"labels":[],"comment":{"comment_body":"x"},"justification":"y"}`
	_, err := ParseDecision(text, nil)
	var valErr *ValidationError
	if !errors.As(err, &valErr) || valErr.Offending != "resolved" {
		t.Fatalf("expected status rejection, got %v", err)
	}
}

func TestParseDecision_BadPriority(t *testing.T) {
	text := `{"status":"awaiting response","priority":"critical","user_assignees":[],"crew_assignees":[],"labels":[],"comment":{"comment_body":"x"},"justification":"y"}`
	_, err := ParseDecision(text, nil)
	var valErr *ValidationError
	if !errors.As(err, &valErr) || valErr.Offending != "critical" {
		t.Fatalf("expected priority rejection, got %v", err)
	}
}

func TestParseDecision_UnverifiedIdentifier(t *testing.T) {
	_, err := ParseDecision(goodDecision, []string{"label-1"})
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if valErr.Reason != "unverified identifier" || valErr.Offending != "crew-1" {
		t.Fatalf("unexpected rejection: %v", valErr)
	}
}

func TestParseDecision_EmptyListsAreValid(t *testing.T) {
	text := `{"status":"awaiting response","priority":"low","user_assignees":[],"crew_assignees":[],"labels":[],"comment":{"comment_body":"Queued for manual assignment."},"justification":"No location on the ticket."}`
	dec, err := ParseDecision(text, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dec.CrewAssignees) != 0 {
		t.Fatalf("expected empty crew assignees, got %v", dec.CrewAssignees)
	}
}

func TestFirstBalancedObject_NestedBraces(t *testing.T) {
	text := `prefix {"a": {"b": "c}"}, "d": 1} suffix`
	obj, ok := firstBalancedObject(text)
	if !ok {
		t.Fatal("expected an object")
	}
	if obj != `{"a": {"b": "c}"}, "d": 1}` {
		t.Fatalf("unexpected object: %s", obj)
	}
}
