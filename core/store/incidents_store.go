package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

var (
	ErrConflict = errors.New("conflict")
	ErrNotFound = errors.New("not found")
)

const (
	StatusNew        = "N"
	StatusInProgress = "I"
	StatusClosed     = "C"

	UrgencyLow    = "L"
	UrgencyMedium = "M"
	UrgencyHigh   = "H"
)

var StatusNames = map[string]string{
	StatusNew:        "New",
	StatusInProgress: "In Process",
	StatusClosed:     "Closed",
}

var UrgencyNames = map[string]string{
	UrgencyLow:    "Low",
	UrgencyMedium: "Medium",
	UrgencyHigh:   "High",
}

type Incident struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	StatusCode     string    `json:"status_code"`
	UrgencyCode    string    `json:"urgency_code,omitempty"`
	CustomerID     *string   `json:"customer_id,omitempty"`
	IsActiveEntity bool      `json:"is_active_entity"`
	CreatedAt      time.Time `json:"created_at"`
	CreatedBy      string    `json:"created_by"`
	ModifiedAt     time.Time `json:"modified_at"`
	ModifiedBy     string    `json:"modified_by"`
	Version        int       `json:"version"`

	Draft *DraftAdministrativeData `json:"draft,omitempty"`
}

// Clone returns a deep copy so in-flight payloads never alias stored rows.
func (i Incident) Clone() *Incident {
	out := i
	if i.CustomerID != nil {
		c := *i.CustomerID
		out.CustomerID = &c
	}
	if i.Draft != nil {
		d := *i.Draft
		out.Draft = &d
	}
	return &out
}

type IncidentTimelineEvent struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	EventType  string    `json:"event_type"`
	Message    string    `json:"message"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

type IncidentFilter struct {
	Search     string
	Status     string
	Urgency    string
	CustomerID string
	Limit      int
	Offset     int
}

// IncidentsStore reads and writes active incident rows.
type IncidentsStore interface {
	CreateIncident(ctx context.Context, incident *Incident) error
	UpdateIncident(ctx context.Context, incident *Incident, expectedVersion int) error
	DeleteIncident(ctx context.Context, id string) error
	GetIncident(ctx context.Context, id string) (*Incident, error)
	GetIncidentForUpdate(ctx context.Context, id string) (*Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error)

	ListIncidentTimeline(ctx context.Context, incidentID string, limit int) ([]IncidentTimelineEvent, error)
	AddIncidentTimeline(ctx context.Context, ev *IncidentTimelineEvent) error
}

type incidentsStore struct {
	db      DBTX
	dialect Dialect
}

func NewIncidentsStore(db DBTX, dialect Dialect) IncidentsStore {
	return &incidentsStore{db: bind(db, dialect), dialect: dialect}
}

const incidentColumns = `id, title, status_code, urgency_code, customer_id, created_at, created_by, modified_at, modified_by, version`

func (s *incidentsStore) CreateIncident(ctx context.Context, incident *Incident) error {
	if strings.TrimSpace(incident.ID) == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("generate incident id: %w", err)
		}
		incident.ID = id.String()
	}
	if strings.TrimSpace(incident.StatusCode) == "" {
		incident.StatusCode = StatusNew
	}
	now := time.Now().UTC()
	if incident.CreatedAt.IsZero() {
		incident.CreatedAt = now
	}
	if incident.ModifiedAt.IsZero() {
		incident.ModifiedAt = now
	}
	incident.Version = 1
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents(`+incidentColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?)`,
		incident.ID, incident.Title, incident.StatusCode, nullableCode(incident.UrgencyCode), nullableString(incident.CustomerID),
		incident.CreatedAt, incident.CreatedBy, incident.ModifiedAt, incident.ModifiedBy, incident.Version)
	if err != nil {
		return fmt.Errorf("insert incident %s: %w", incident.ID, err)
	}
	incident.IsActiveEntity = true
	incident.Draft = nil
	return nil
}

// UpdateIncident writes the row only if it is still at expectedVersion and not
// closed. Anything else affects zero rows and reports ErrConflict; callers
// re-read to tell a missing row from a closed or concurrently changed one.
func (s *incidentsStore) UpdateIncident(ctx context.Context, incident *Incident, expectedVersion int) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET title=?, status_code=?, urgency_code=?, customer_id=?, modified_by=?, modified_at=?, version=version+1
		WHERE id=? AND version=? AND status_code<>?`,
		incident.Title, incident.StatusCode, nullableCode(incident.UrgencyCode), nullableString(incident.CustomerID),
		incident.ModifiedBy, now, incident.ID, expectedVersion, StatusClosed)
	if err != nil {
		return fmt.Errorf("update incident %s: %w", incident.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	incident.Version = expectedVersion + 1
	incident.ModifiedAt = now
	incident.IsActiveEntity = true
	return nil
}

func (s *incidentsStore) DeleteIncident(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM incidents WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete incident %s: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *incidentsStore) GetIncident(ctx context.Context, id string) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id=?`, id)
	return scanIncident(row)
}

// GetIncidentForUpdate locks the row on postgres. On sqlite the single
// connection already serializes the surrounding transaction.
func (s *incidentsStore) GetIncidentForUpdate(ctx context.Context, id string) (*Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id=?`
	if s.dialect == DialectPostgres {
		query += " FOR UPDATE"
	}
	return scanIncident(s.db.QueryRowContext(ctx, query, id))
}

func (s *incidentsStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	var clauses []string
	var args []any
	if filter.Status != "" {
		clauses = append(clauses, "status_code=?")
		args = append(args, filter.Status)
	}
	if filter.Urgency != "" {
		clauses = append(clauses, "urgency_code=?")
		args = append(args, filter.Urgency)
	}
	if filter.CustomerID != "" {
		clauses = append(clauses, "customer_id=?")
		args = append(args, filter.CustomerID)
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		clauses = append(clauses, "LOWER(title) LIKE ?")
		args = append(args, "%"+strings.ToLower(q)+"%")
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY modified_at DESC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *inc)
	}
	return res, rows.Err()
}

func (s *incidentsStore) ListIncidentTimeline(ctx context.Context, incidentID string, limit int) ([]IncidentTimelineEvent, error) {
	query := `
		SELECT id, incident_id, event_type, message, created_by, created_at
		FROM incident_timeline WHERE incident_id=?
		ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []IncidentTimelineEvent
	for rows.Next() {
		var ev IncidentTimelineEvent
		if err := rows.Scan(&ev.ID, &ev.IncidentID, &ev.EventType, &ev.Message, &ev.CreatedBy, &ev.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (s *incidentsStore) AddIncidentTimeline(ctx context.Context, ev *IncidentTimelineEvent) error {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("generate timeline id: %w", err)
	}
	ev.ID = id.String()
	ev.CreatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incident_timeline(id, incident_id, event_type, message, created_by, created_at)
		VALUES(?,?,?,?,?,?)`,
		ev.ID, ev.IncidentID, strings.TrimSpace(ev.EventType), strings.TrimSpace(ev.Message), ev.CreatedBy, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert timeline for %s: %w", ev.IncidentID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*Incident, error) {
	var inc Incident
	var urgency, customer sql.NullString
	if err := row.Scan(&inc.ID, &inc.Title, &inc.StatusCode, &urgency, &customer, &inc.CreatedAt, &inc.CreatedBy, &inc.ModifiedAt, &inc.ModifiedBy, &inc.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	inc.UrgencyCode = urgency.String
	if customer.Valid {
		inc.CustomerID = &customer.String
	}
	inc.IsActiveEntity = true
	return &inc, nil
}
