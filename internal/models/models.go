package models

import (
	"encoding/json"
	"time"
)

const (
	StatusAwaitingResponse   = "awaiting response"
	StatusResponseInProgress = "response in progress"
	StatusResolved           = "resolved"
)

const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

const (
	OriginPhone   = "phone"
	OriginWebForm = "web form"
	OriginText    = "text"
)

const (
	ResourceActive   = "active"
	ResourceInactive = "inactive"
)

var CrewTypes = []string{
	"pothole crew",
	"drain crew",
	"tree crew",
	"sign crew",
	"snow crew",
	"sanitation crew",
}

func ValidCrewType(v string) bool {
	for _, t := range CrewTypes {
		if t == v {
			return true
		}
	}
	return false
}

type Ticket struct {
	ID         string     `json:"ticket_id"`
	Subject    string     `json:"ticket_subject"`
	Body       string     `json:"ticket_body"`
	Origin     string     `json:"origin"`
	Status     string     `json:"status"`
	Priority   string     `json:"priority"`
	ReporterID *string    `json:"reporter_id,omitempty"`
	Lat        *float64   `json:"lat,omitempty"`
	Lng        *float64   `json:"lng,omitempty"`
	CreatedAt  time.Time  `json:"time_created"`
	UpdatedAt  *time.Time `json:"time_updated,omitempty"`
}

func (t Ticket) HasLocation() bool {
	return t.Lat != nil && t.Lng != nil
}

type Label struct {
	ID          string `json:"label_id"`
	Name        string `json:"label_name"`
	Description string `json:"label_description"`
	ColorHex    string `json:"color_hex"`
}

type User struct {
	ID        string            `json:"user_id"`
	FirstName string            `json:"firstname"`
	LastName  string            `json:"lastname"`
	Email     string            `json:"email"`
	Phone     string            `json:"phone_number"`
	Status    string            `json:"status"`
	Metadata  map[string]string `json:"meta_data,omitempty"`
}

type Crew struct {
	ID          string   `json:"team_id"`
	Name        string   `json:"team_name"`
	CrewType    string   `json:"crew_type"`
	Status      string   `json:"status"`
	Description string   `json:"description,omitempty"`
	Lat         *float64 `json:"lat,omitempty"`
	Lng         *float64 `json:"lng,omitempty"`
}

func (c Crew) HasLocation() bool {
	return c.Lat != nil && c.Lng != nil
}

type Comment struct {
	ID        string    `json:"comment_id"`
	TicketID  string    `json:"ticket_id"`
	Body      string    `json:"comment_body"`
	Commenter *string   `json:"commenter,omitempty"`
	CreatedAt time.Time `json:"time_created"`
}

// DispatchDecision is the validated structured output of one dispatch. JSON
// field names follow the wire contract the reasoning model is instructed to
// produce.
type DispatchDecision struct {
	Status        string          `json:"status" validate:"required"`
	Priority      string          `json:"priority" validate:"required,oneof=high medium low"`
	UserAssignees []string        `json:"user_assignees"`
	CrewAssignees []string        `json:"crew_assignees"`
	Labels        []string        `json:"labels"`
	Comment       DecisionComment `json:"comment"`
	Justification string          `json:"justification" validate:"required"`
}

// DecisionComment carries the citizen-facing reply posted to the ticket.
type DecisionComment struct {
	Body string `json:"comment_body" validate:"required"`
}

type AuditEntry struct {
	ID        string          `json:"audit_id"`
	TicketID  string          `json:"ticket_id"`
	Decision  json.RawMessage `json:"decision"`
	CreatedAt time.Time       `json:"time_created"`
}
