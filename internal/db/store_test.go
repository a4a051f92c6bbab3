package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/civitas311/backend/internal/dispatch"
	"github.com/civitas311/backend/internal/models"
	"github.com/civitas311/backend/internal/utils"
)

var testSchema = []string{
	`CREATE TABLE IF NOT EXISTS tickets (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		origin TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL DEFAULT '',
		reporter_id TEXT,
		lat DOUBLE PRECISION,
		lng DOUBLE PRECISION,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS labels (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		color_hex TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		firstname TEXT NOT NULL DEFAULT '',
		lastname TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		metadata JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS crews (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		crew_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		description TEXT NOT NULL DEFAULT '',
		lat DOUBLE PRECISION,
		lng DOUBLE PRECISION
	)`,
	`CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		ticket_id TEXT NOT NULL REFERENCES tickets(id),
		body TEXT NOT NULL,
		commenter TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ticket_labels (
		ticket_id TEXT NOT NULL REFERENCES tickets(id),
		label_id TEXT NOT NULL REFERENCES labels(id),
		PRIMARY KEY (ticket_id, label_id)
	)`,
	`CREATE TABLE IF NOT EXISTS ticket_assignees (
		ticket_id TEXT NOT NULL REFERENCES tickets(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		PRIMARY KEY (ticket_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS ticket_crews (
		ticket_id TEXT NOT NULL REFERENCES tickets(id),
		crew_id TEXT NOT NULL REFERENCES crews(id),
		PRIMARY KEY (ticket_id, crew_id)
	)`,
	`CREATE TABLE IF NOT EXISTS dispatch_audit (
		id TEXT PRIMARY KEY,
		ticket_id TEXT NOT NULL REFERENCES tickets(id),
		decision JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := New(ctx, url)
	if err != nil {
		t.Fatalf("db connect: %v", err)
	}
	t.Cleanup(store.Close)

	for _, stmt := range testSchema {
		if _, err := store.Pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("schema: %v", err)
		}
	}
	if _, err := store.Pool.Exec(ctx,
		`TRUNCATE tickets, labels, users, crews, comments, ticket_labels, ticket_assignees, ticket_crews, dispatch_audit`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return store
}

func seedTicket(t *testing.T, store *Store) models.Ticket {
	t.Helper()
	lat, lng := 40.6838, -73.9538
	ticket := models.Ticket{
		ID:        "t-1",
		Subject:   "Fallen tree",
		Body:      "A tree fell across the bike lane.",
		Origin:    models.OriginPhone,
		Status:    models.StatusAwaitingResponse,
		Lat:       &lat,
		Lng:       &lng,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := store.InsertTickets(context.Background(), []models.Ticket{ticket}); err != nil {
		t.Fatalf("insert ticket: %v", err)
	}
	return ticket
}

func TestGetTicket_NotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.GetTicket(context.Background(), "missing")
	if !errors.Is(err, dispatch.ErrTicketNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestApplyDecision_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedTicket(t, store)

	if _, err := store.InsertLabels(ctx, []models.Label{{ID: "l-1", Name: "tree"}}); err != nil {
		t.Fatalf("insert label: %v", err)
	}
	lat, lng := 40.6872, -73.9418
	if _, err := store.InsertCrews(ctx, []models.Crew{{
		ID: "c-1", Name: "Bed-Stuy Trees", CrewType: "tree crew",
		Status: models.ResourceActive, Lat: &lat, Lng: &lng,
	}}); err != nil {
		t.Fatalf("insert crew: %v", err)
	}

	dec := models.DispatchDecision{
		Status:        models.StatusAwaitingResponse,
		Priority:      models.PriorityHigh,
		UserAssignees: []string{},
		CrewAssignees: []string{"c-1"},
		Labels:        []string{"l-1"},
		Comment:       models.DecisionComment{Body: "A crew is on the way."},
		Justification: "Safety hazard.",
	}
	if err := store.ApplyDecision(ctx, "t-1", dec); err != nil {
		t.Fatalf("apply: %v", err)
	}

	ticket, err := store.GetTicket(ctx, "t-1")
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if ticket.Priority != models.PriorityHigh {
		t.Fatalf("priority not applied: %q", ticket.Priority)
	}
	if ticket.UpdatedAt == nil {
		t.Fatal("updated_at not set")
	}

	var crewCount, commentCount int
	if err := store.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM ticket_crews WHERE ticket_id = 't-1'`).Scan(&crewCount); err != nil {
		t.Fatalf("count crews: %v", err)
	}
	if crewCount != 1 {
		t.Fatalf("expected 1 crew association, got %d", crewCount)
	}
	if err := store.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM comments WHERE ticket_id = 't-1'`).Scan(&commentCount); err != nil {
		t.Fatalf("count comments: %v", err)
	}
	if commentCount != 1 {
		t.Fatalf("expected 1 comment, got %d", commentCount)
	}

	details, err := store.GetTicketDetails(ctx, "t-1")
	if err != nil {
		t.Fatalf("get details: %v", err)
	}
	if len(details.Crews) != 1 || details.Crews[0].ID != "c-1" {
		t.Fatalf("unexpected crews in details: %v", details.Crews)
	}
	if len(details.Labels) != 1 || details.Labels[0].ID != "l-1" {
		t.Fatalf("unexpected labels in details: %v", details.Labels)
	}
	if len(details.Comments) != 1 || details.Comments[0].Body != "A crew is on the way." {
		t.Fatalf("unexpected comments in details: %v", details.Comments)
	}

	audits, err := store.ListAuditEntries(ctx, "t-1")
	if err != nil {
		t.Fatalf("list audits: %v", err)
	}
	if len(audits) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(audits))
	}

	// Re-applying replaces the association rows instead of stacking them.
	if err := store.ApplyDecision(ctx, "t-1", dec); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	if err := store.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM ticket_crews WHERE ticket_id = 't-1'`).Scan(&crewCount); err != nil {
		t.Fatalf("count crews: %v", err)
	}
	if crewCount != 1 {
		t.Fatalf("expected 1 crew association after re-apply, got %d", crewCount)
	}
}

func TestApplyDecision_VanishedCrewIsConflict(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedTicket(t, store)

	dec := models.DispatchDecision{
		Status:        models.StatusAwaitingResponse,
		Priority:      models.PriorityLow,
		UserAssignees: []string{},
		CrewAssignees: []string{"never-existed"},
		Labels:        []string{},
		Comment:       models.DecisionComment{Body: "x"},
		Justification: "y",
	}
	err := store.ApplyDecision(ctx, "t-1", dec)
	var conflict *dispatch.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}

	// The whole transaction rolled back.
	ticket, err := store.GetTicket(ctx, "t-1")
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if ticket.Priority == models.PriorityLow {
		t.Fatal("failed apply must not change the ticket")
	}
}

func TestApplyDecision_HeldLockFailsFast(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedTicket(t, store)

	// A concurrent dispatch holds the per-ticket advisory lock for the
	// lifetime of its transaction.
	holder, err := store.Pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin holder tx: %v", err)
	}
	defer holder.Rollback(ctx)
	if _, err := holder.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, utils.HashStringToInt64("t-1")); err != nil {
		t.Fatalf("acquire lock: %v", err)
	}

	dec := models.DispatchDecision{
		Status:        models.StatusAwaitingResponse,
		Priority:      models.PriorityHigh,
		UserAssignees: []string{},
		CrewAssignees: []string{},
		Labels:        []string{},
		Comment:       models.DecisionComment{Body: "duplicate dispatch"},
		Justification: "should not land",
	}
	start := time.Now()
	err = store.ApplyDecision(ctx, "t-1", dec)
	if !errors.Is(err, dispatch.ErrDispatchInProgress) {
		t.Fatalf("expected dispatch in progress, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("loser should fail fast, not block on the lock")
	}

	// The losing apply left no partial state behind.
	var commentCount, auditCount int
	if err := store.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM comments WHERE ticket_id = 't-1'`).Scan(&commentCount); err != nil {
		t.Fatalf("count comments: %v", err)
	}
	if commentCount != 0 {
		t.Fatalf("expected 0 comments, got %d", commentCount)
	}
	if err := store.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM dispatch_audit WHERE ticket_id = 't-1'`).Scan(&auditCount); err != nil {
		t.Fatalf("count audits: %v", err)
	}
	if auditCount != 0 {
		t.Fatalf("expected 0 audit entries, got %d", auditCount)
	}
	ticket, err := store.GetTicket(ctx, "t-1")
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if ticket.Priority == models.PriorityHigh {
		t.Fatal("losing apply must not change the ticket")
	}

	// Releasing the lock lets the next dispatch through.
	if err := holder.Rollback(ctx); err != nil {
		t.Fatalf("rollback holder tx: %v", err)
	}
	if err := store.ApplyDecision(ctx, "t-1", dec); err != nil {
		t.Fatalf("apply after release: %v", err)
	}
}

func TestApplyDecision_MissingTicket(t *testing.T) {
	store := setupTestStore(t)
	dec := models.DispatchDecision{
		Status:        models.StatusAwaitingResponse,
		Priority:      models.PriorityLow,
		UserAssignees: []string{},
		CrewAssignees: []string{},
		Labels:        []string{},
		Comment:       models.DecisionComment{Body: "x"},
		Justification: "y",
	}
	err := store.ApplyDecision(context.Background(), "missing", dec)
	if !errors.Is(err, dispatch.ErrTicketNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSearchUsers_MatchesMetadata(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	users := []models.User{
		{ID: "u-1", FirstName: "Hugh", LastName: "Peterson", Email: "hugh@example.com", Status: models.ResourceActive, Metadata: map[string]string{"department": "parks"}},
		{ID: "u-2", FirstName: "Dana", LastName: "Wells", Email: "dana@example.com", Status: models.ResourceActive},
	}
	if _, err := store.InsertUsers(ctx, users); err != nil {
		t.Fatalf("insert users: %v", err)
	}

	got, err := store.SearchUsers(ctx, "parks")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "u-1" {
		t.Fatalf("expected metadata match for u-1, got %v", got)
	}
}
