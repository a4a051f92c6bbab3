package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civitas311/backend/internal/dispatch"
	"github.com/civitas311/backend/internal/models"
	"github.com/civitas311/backend/internal/utils"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const ticketColumns = `id, subject, body, origin, status, priority, reporter_id, lat, lng, created_at, updated_at`

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var t models.Ticket
	err := row.Scan(&t.ID, &t.Subject, &t.Body, &t.Origin, &t.Status, &t.Priority,
		&t.ReporterID, &t.Lat, &t.Lng, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *Store) GetTicket(ctx context.Context, id string) (models.Ticket, error) {
	t, err := scanTicket(s.Pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return t, dispatch.ErrTicketNotFound
	}
	return t, err
}

func (s *Store) ListTickets(ctx context.Context, status, priority, q string, limit, offset int) ([]models.Ticket, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + ticketColumns + ` FROM tickets`
	var args []any
	var wheres []string
	if status != "" {
		args = append(args, status)
		wheres = append(wheres, fmt.Sprintf("status = $%d", len(args)))
	}
	if priority != "" {
		args = append(args, priority)
		wheres = append(wheres, fmt.Sprintf("priority = $%d", len(args)))
	}
	if q != "" {
		args = append(args, "%"+q+"%")
		wheres = append(wheres, fmt.Sprintf("(subject ILIKE $%d OR body ILIKE $%d)", len(args), len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT $" + fmt.Sprint(len(args)+1) + " OFFSET $" + fmt.Sprint(len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TicketDetails is the full read view of one ticket.
type TicketDetails struct {
	Ticket    models.Ticket    `json:"ticket"`
	Labels    []models.Label   `json:"labels"`
	Assignees []models.User    `json:"assignees"`
	Crews     []models.Crew    `json:"crews"`
	Comments  []models.Comment `json:"comments"`
}

func (s *Store) GetTicketDetails(ctx context.Context, id string) (TicketDetails, error) {
	details := TicketDetails{
		Labels:    []models.Label{},
		Assignees: []models.User{},
		Crews:     []models.Crew{},
		Comments:  []models.Comment{},
	}

	t, err := s.GetTicket(ctx, id)
	if err != nil {
		return details, err
	}
	details.Ticket = t

	rows, err := s.Pool.Query(ctx, `
		SELECT l.id, l.name, l.description, l.color_hex
		FROM labels l JOIN ticket_labels tl ON tl.label_id = l.id
		WHERE tl.ticket_id = $1 ORDER BY l.name ASC
	`, id)
	if err != nil {
		return details, err
	}
	for rows.Next() {
		var l models.Label
		if err := rows.Scan(&l.ID, &l.Name, &l.Description, &l.ColorHex); err != nil {
			rows.Close()
			return details, err
		}
		details.Labels = append(details.Labels, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return details, err
	}

	rows, err = s.Pool.Query(ctx, `
		SELECT u.id, u.firstname, u.lastname, u.email, u.phone, u.status, u.metadata
		FROM users u JOIN ticket_assignees ta ON ta.user_id = u.id
		WHERE ta.ticket_id = $1 ORDER BY u.lastname ASC
	`, id)
	if err != nil {
		return details, err
	}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Phone, &u.Status, &u.Metadata); err != nil {
			rows.Close()
			return details, err
		}
		details.Assignees = append(details.Assignees, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return details, err
	}

	rows, err = s.Pool.Query(ctx, `
		SELECT c.id, c.name, c.crew_type, c.status, c.description, c.lat, c.lng
		FROM crews c JOIN ticket_crews tc ON tc.crew_id = c.id
		WHERE tc.ticket_id = $1 ORDER BY c.name ASC
	`, id)
	if err != nil {
		return details, err
	}
	for rows.Next() {
		var c models.Crew
		if err := rows.Scan(&c.ID, &c.Name, &c.CrewType, &c.Status, &c.Description, &c.Lat, &c.Lng); err != nil {
			rows.Close()
			return details, err
		}
		details.Crews = append(details.Crews, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return details, err
	}

	rows, err = s.Pool.Query(ctx, `
		SELECT id, ticket_id, body, commenter, created_at FROM comments
		WHERE ticket_id = $1 ORDER BY created_at ASC
	`, id)
	if err != nil {
		return details, err
	}
	for rows.Next() {
		var cm models.Comment
		if err := rows.Scan(&cm.ID, &cm.TicketID, &cm.Body, &cm.Commenter, &cm.CreatedAt); err != nil {
			rows.Close()
			return details, err
		}
		details.Comments = append(details.Comments, cm)
	}
	rows.Close()
	return details, rows.Err()
}

func (s *Store) SearchLabels(ctx context.Context, search string) ([]models.Label, error) {
	pattern := "%" + search + "%"
	rows, err := s.Pool.Query(ctx, `
		SELECT id, name, description, color_hex FROM labels
		WHERE name ILIKE $1 OR description ILIKE $1
		ORDER BY name ASC
	`, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Label
	for rows.Next() {
		var l models.Label
		if err := rows.Scan(&l.ID, &l.Name, &l.Description, &l.ColorHex); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) SearchUsers(ctx context.Context, search string) ([]models.User, error) {
	pattern := "%" + search + "%"
	rows, err := s.Pool.Query(ctx, `
		SELECT id, firstname, lastname, email, phone, status, metadata FROM users
		WHERE firstname ILIKE $1 OR lastname ILIKE $1
			OR (firstname || ' ' || lastname) ILIKE $1
			OR email ILIKE $1 OR phone ILIKE $1
			OR metadata::text ILIKE $1
		ORDER BY lastname ASC, firstname ASC
	`, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Phone, &u.Status, &u.Metadata); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) ListCrewsByType(ctx context.Context, crewType string) ([]models.Crew, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, name, crew_type, status, description, lat, lng FROM crews
		WHERE crew_type = $1
		ORDER BY name ASC
	`, crewType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Crew
	for rows.Next() {
		var c models.Crew
		if err := rows.Scan(&c.ID, &c.Name, &c.CrewType, &c.Status, &c.Description, &c.Lat, &c.Lng); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ApplyDecision writes a validated dispatch decision in one transaction.
// A per-ticket advisory lock serializes concurrent dispatches; losing the
// race returns ErrDispatchInProgress without touching the ticket. Referenced
// labels, users, and crews that vanished since the tools returned them
// surface as a ConflictError via their foreign keys.
func (s *Store) ApplyDecision(ctx context.Context, ticketID string, dec models.DispatchDecision) error {
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var locked bool
		key := utils.HashStringToInt64(ticketID)
		if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, key).Scan(&locked); err != nil {
			return err
		}
		if !locked {
			return dispatch.ErrDispatchInProgress
		}

		tag, err := tx.Exec(ctx, `
			UPDATE tickets SET status = $1, priority = $2, updated_at = NOW() WHERE id = $3
		`, dec.Status, dec.Priority, ticketID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return dispatch.ErrTicketNotFound
		}

		assocs := []struct {
			table  string
			column string
			ids    []string
		}{
			{"ticket_labels", "label_id", dec.Labels},
			{"ticket_assignees", "user_id", dec.UserAssignees},
			{"ticket_crews", "crew_id", dec.CrewAssignees},
		}
		for _, a := range assocs {
			if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE ticket_id = $1`, a.table), ticketID); err != nil {
				return err
			}
			for _, id := range a.ids {
				if _, err := tx.Exec(ctx,
					fmt.Sprintf(`INSERT INTO %s (ticket_id, %s) VALUES ($1, $2)`, a.table, a.column),
					ticketID, id); err != nil {
					return err
				}
			}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO comments (id, ticket_id, body, created_at) VALUES ($1, $2, $3, NOW())
		`, uuid.NewString(), ticketID, dec.Comment.Body); err != nil {
			return err
		}

		decision, err := json.Marshal(dec)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO dispatch_audit (id, ticket_id, decision, created_at) VALUES ($1, $2, $3, NOW())
		`, uuid.NewString(), ticketID, decision)
		return err
	})

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return &dispatch.ConflictError{TicketID: ticketID, Err: err}
	}
	return err
}

func (s *Store) ListAuditEntries(ctx context.Context, ticketID string) ([]models.AuditEntry, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, ticket_id, decision, created_at FROM dispatch_audit
		WHERE ticket_id = $1 ORDER BY created_at DESC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.TicketID, &e.Decision, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) InsertTickets(ctx context.Context, tickets []models.Ticket) (int64, error) {
	rows := make([][]any, 0, len(tickets))
	for _, t := range tickets {
		rows = append(rows, []any{t.ID, t.Subject, t.Body, t.Origin, t.Status, t.Priority, t.ReporterID, t.Lat, t.Lng, t.CreatedAt, t.UpdatedAt})
	}
	return s.Pool.CopyFrom(ctx, pgx.Identifier{"tickets"},
		[]string{"id", "subject", "body", "origin", "status", "priority", "reporter_id", "lat", "lng", "created_at", "updated_at"},
		pgx.CopyFromRows(rows))
}

func (s *Store) InsertLabels(ctx context.Context, labels []models.Label) (int64, error) {
	rows := make([][]any, 0, len(labels))
	for _, l := range labels {
		rows = append(rows, []any{l.ID, l.Name, l.Description, l.ColorHex})
	}
	return s.Pool.CopyFrom(ctx, pgx.Identifier{"labels"},
		[]string{"id", "name", "description", "color_hex"},
		pgx.CopyFromRows(rows))
}

func (s *Store) InsertUsers(ctx context.Context, users []models.User) (int64, error) {
	rows := make([][]any, 0, len(users))
	for _, u := range users {
		rows = append(rows, []any{u.ID, u.FirstName, u.LastName, u.Email, u.Phone, u.Status, u.Metadata})
	}
	return s.Pool.CopyFrom(ctx, pgx.Identifier{"users"},
		[]string{"id", "firstname", "lastname", "email", "phone", "status", "metadata"},
		pgx.CopyFromRows(rows))
}

func (s *Store) InsertCrews(ctx context.Context, crews []models.Crew) (int64, error) {
	rows := make([][]any, 0, len(crews))
	for _, c := range crews {
		rows = append(rows, []any{c.ID, c.Name, c.CrewType, c.Status, c.Description, c.Lat, c.Lng})
	}
	return s.Pool.CopyFrom(ctx, pgx.Identifier{"crews"},
		[]string{"id", "name", "crew_type", "status", "description", "lat", "lng"},
		pgx.CopyFromRows(rows))
}
