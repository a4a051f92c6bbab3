package handlers

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/civitas311/backend/internal/models"
)

type ImportSummary struct {
	Tickets importCounts `json:"tickets"`
	Labels  importCounts `json:"labels"`
	Users   importCounts `json:"users"`
	Crews   importCounts `json:"crews"`
	Errors  []string     `json:"errors"`
}

type importCounts struct {
	Parsed   int `json:"parsed"`
	Inserted int `json:"inserted"`
	Errors   int `json:"errors"`
}

// @Summary Import CSV data
// @Description Upload tickets, labels, users, and crews CSV files
// @Tags import
// @Accept multipart/form-data
// @Produce json
// @Param tickets formData file true "tickets.csv"
// @Param labels formData file true "labels.csv"
// @Param users formData file true "users.csv"
// @Param crews formData file true "crews.csv"
// @Success 200 {object} ImportSummary
// @Failure 400 {object} map[string]any
// @Router /api/import [post]
func (h *Handler) Import(c *gin.Context) {
	files := map[string]*multipart.FileHeader{}
	for _, name := range []string{"tickets", "labels", "users", "crews"} {
		f, err := c.FormFile(name)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", name+" file required", nil)
			return
		}
		if !validateExt(f.Filename) {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "all files must be .csv", nil)
			return
		}
		files[name] = f
	}

	summary := ImportSummary{Errors: []string{}}
	ctx := c.Request.Context()

	tickets, errs := parseTicketsCSV(files["tickets"])
	summary.Tickets.Parsed = len(tickets)
	summary.Tickets.Errors = len(errs)
	summary.Errors = append(summary.Errors, errs...)

	labels, errs := parseLabelsCSV(files["labels"])
	summary.Labels.Parsed = len(labels)
	summary.Labels.Errors = len(errs)
	summary.Errors = append(summary.Errors, errs...)

	users, errs := parseUsersCSV(files["users"])
	summary.Users.Parsed = len(users)
	summary.Users.Errors = len(errs)
	summary.Errors = append(summary.Errors, errs...)

	crews, errs := parseCrewsCSV(files["crews"])
	summary.Crews.Parsed = len(crews)
	summary.Crews.Errors = len(errs)
	summary.Errors = append(summary.Errors, errs...)

	if len(summary.Errors) > 0 {
		writeError(c, http.StatusBadRequest, "CSV_PARSE_ERROR", "CSV validation errors", summary.Errors)
		return
	}

	err := h.Store.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `TRUNCATE tickets, labels, users, crews, comments, ticket_labels, ticket_assignees, ticket_crews, dispatch_audit`)
		return err
	})
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to reset tables", err.Error())
		return
	}

	inserted, err := h.Store.InsertTickets(ctx, tickets)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to insert tickets", err.Error())
		return
	}
	summary.Tickets.Inserted = int(inserted)

	inserted, err = h.Store.InsertLabels(ctx, labels)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to insert labels", err.Error())
		return
	}
	summary.Labels.Inserted = int(inserted)

	inserted, err = h.Store.InsertUsers(ctx, users)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to insert users", err.Error())
		return
	}
	summary.Users.Inserted = int(inserted)

	inserted, err = h.Store.InsertCrews(ctx, crews)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to insert crews", err.Error())
		return
	}
	summary.Crews.Inserted = int(inserted)

	c.JSON(http.StatusOK, summary)
}

func parseTicketsCSV(file *multipart.FileHeader) ([]models.Ticket, []string) {
	rows, index, errs := openCSV(file)
	if rows == nil {
		return nil, errs
	}

	var out []models.Ticket
	for _, rec := range rows {
		id := getFieldAny(rec, index, "ticket_id", "id")
		subject := getFieldAny(rec, index, "subject", "ticket_subject")
		body := getFieldAny(rec, index, "body", "ticket_body", "description")
		origin := strings.ToLower(getFieldAny(rec, index, "origin", "source"))
		status := strings.ToLower(getFieldAny(rec, index, "status"))
		priority := strings.ToLower(getFieldAny(rec, index, "priority"))
		reporter := getFieldAny(rec, index, "reporter_id", "reporter")
		createdAtStr := getFieldAny(rec, index, "time_created", "created_at")

		if subject == "" && body == "" {
			errs = append(errs, "ticket subject or body required")
			continue
		}
		if id == "" {
			id = uuid.NewString()
		}
		if status == "" {
			status = models.StatusAwaitingResponse
		}
		createdAt, err := time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			createdAt = time.Now().UTC()
		}

		t := models.Ticket{
			ID:        id,
			Subject:   subject,
			Body:      body,
			Origin:    origin,
			Status:    status,
			Priority:  priority,
			CreatedAt: createdAt,
		}
		if reporter != "" {
			t.ReporterID = &reporter
		}
		if lat, lng, ok := parseCoords(rec, index); ok {
			t.Lat, t.Lng = &lat, &lng
		}
		out = append(out, t)
	}
	return out, errs
}

func parseLabelsCSV(file *multipart.FileHeader) ([]models.Label, []string) {
	rows, index, errs := openCSV(file)
	if rows == nil {
		return nil, errs
	}

	var out []models.Label
	for _, rec := range rows {
		l := models.Label{
			ID:          getFieldAny(rec, index, "label_id", "id"),
			Name:        getFieldAny(rec, index, "label_name", "name"),
			Description: getFieldAny(rec, index, "label_description", "description"),
			ColorHex:    getFieldAny(rec, index, "color_hex", "color"),
		}
		if l.Name == "" {
			errs = append(errs, "label name required")
			continue
		}
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		out = append(out, l)
	}
	return out, errs
}

func parseUsersCSV(file *multipart.FileHeader) ([]models.User, []string) {
	rows, index, errs := openCSV(file)
	if rows == nil {
		return nil, errs
	}

	var out []models.User
	for _, rec := range rows {
		u := models.User{
			ID:        getFieldAny(rec, index, "user_id", "id"),
			FirstName: getFieldAny(rec, index, "firstname", "first_name"),
			LastName:  getFieldAny(rec, index, "lastname", "last_name"),
			Email:     getFieldAny(rec, index, "email"),
			Phone:     getFieldAny(rec, index, "phone", "phone_number"),
			Status:    strings.ToLower(getFieldAny(rec, index, "status")),
		}
		if u.FirstName == "" && u.LastName == "" {
			errs = append(errs, "user name required")
			continue
		}
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if u.Status == "" {
			u.Status = models.ResourceActive
		}
		if raw := getFieldAny(rec, index, "metadata"); raw != "" {
			meta := map[string]string{}
			if err := json.Unmarshal([]byte(raw), &meta); err != nil {
				errs = append(errs, fmt.Sprintf("user %s: invalid metadata JSON", u.ID))
				continue
			}
			u.Metadata = meta
		}
		out = append(out, u)
	}
	return out, errs
}

func parseCrewsCSV(file *multipart.FileHeader) ([]models.Crew, []string) {
	rows, index, errs := openCSV(file)
	if rows == nil {
		return nil, errs
	}

	var out []models.Crew
	for _, rec := range rows {
		c := models.Crew{
			ID:          getFieldAny(rec, index, "team_id", "id"),
			Name:        getFieldAny(rec, index, "team_name", "name"),
			CrewType:    strings.ToLower(getFieldAny(rec, index, "crew_type", "type")),
			Status:      strings.ToLower(getFieldAny(rec, index, "status")),
			Description: getFieldAny(rec, index, "description"),
		}
		if c.Name == "" {
			errs = append(errs, "crew name required")
			continue
		}
		if !models.ValidCrewType(c.CrewType) {
			errs = append(errs, fmt.Sprintf("crew %s: invalid crew_type %q", c.Name, c.CrewType))
			continue
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.Status == "" {
			c.Status = models.ResourceActive
		}
		if lat, lng, ok := parseCoords(rec, index); ok {
			c.Lat, c.Lng = &lat, &lng
		}
		out = append(out, c)
	}
	return out, errs
}

func openCSV(file *multipart.FileHeader) ([][]string, map[string]int, []string) {
	f, err := file.Open()
	if err != nil {
		return nil, nil, []string{err.Error()}
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	headers, err := reader.Read()
	if err != nil {
		return nil, nil, []string{"failed to read header"}
	}
	index := headerIndex(headers)

	var rows [][]string
	var errs []string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		rows = append(rows, rec)
	}
	return rows, index, errs
}

func parseCoords(rec []string, index map[string]int) (float64, float64, bool) {
	latStr := getFieldAny(rec, index, "lat", "latitude")
	lngStr := getFieldAny(rec, index, "lng", "lon", "longitude")
	if latStr == "" || lngStr == "" {
		return 0, 0, false
	}
	lat, latErr := strconv.ParseFloat(latStr, 64)
	lng, lngErr := strconv.ParseFloat(lngStr, 64)
	if latErr != nil || lngErr != nil {
		return 0, 0, false
	}
	return lat, lng, true
}

func headerIndex(headers []string) map[string]int {
	idx := map[string]int{}
	for i, h := range headers {
		idx[normalizeHeader(h)] = i
	}
	return idx
}

func getField(rec []string, idx map[string]int, name string) string {
	pos, ok := idx[name]
	if !ok || pos >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[pos])
}

func getFieldAny(rec []string, idx map[string]int, names ...string) string {
	for _, name := range names {
		if v := getField(rec, idx, normalizeHeader(name)); v != "" {
			return v
		}
	}
	return ""
}

func normalizeHeader(h string) string {
	h = strings.ReplaceAll(h, "\ufeff", "")
	return strings.ToLower(strings.TrimSpace(h))
}

func validateExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".csv"
}
