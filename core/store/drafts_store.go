package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type DraftAdministrativeData struct {
	HasActiveEntity    bool      `json:"has_active_entity"`
	InProcessByUser    string    `json:"in_process_by_user"`
	DraftCreatedAt     time.Time `json:"draft_created_at"`
	DraftLastChangedAt time.Time `json:"draft_last_changed_at"`
}

// DraftsStore holds at most one draft row per incident id.
type DraftsStore interface {
	CreateDraft(ctx context.Context, draft *Incident) error
	GetDraft(ctx context.Context, id string) (*Incident, error)
	UpdateDraft(ctx context.Context, draft *Incident) error
	DeleteDraft(ctx context.Context, id string) error
	// DeleteStaleDraft deletes the draft only if its last change is still
	// before cutoff and reports whether a row went away.
	DeleteStaleDraft(ctx context.Context, id string, cutoff time.Time) (bool, error)
	ListDraftsByUser(ctx context.Context, user string) ([]Incident, error)
	ListDraftsChangedBefore(ctx context.Context, before time.Time, limit int) ([]Incident, error)
}

type draftsStore struct {
	db DBTX
}

func NewDraftsStore(db DBTX, dialect Dialect) DraftsStore {
	return &draftsStore{db: bind(db, dialect)}
}

const draftColumns = `id, title, status_code, urgency_code, customer_id, created_at, created_by, modified_at, modified_by,
	has_active_entity, in_process_by, draft_created_at, draft_last_changed_at`

func (s *draftsStore) CreateDraft(ctx context.Context, draft *Incident) error {
	if draft.Draft == nil || draft.Draft.InProcessByUser == "" {
		return errors.New("draft owner is required")
	}
	now := time.Now().UTC()
	draft.Draft.DraftCreatedAt = now
	draft.Draft.DraftLastChangedAt = now
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	if draft.ModifiedAt.IsZero() {
		draft.ModifiedAt = now
	}
	if draft.StatusCode == "" {
		draft.StatusCode = StatusNew
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incident_drafts(`+draftColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		draft.ID, draft.Title, draft.StatusCode, nullableCode(draft.UrgencyCode), nullableString(draft.CustomerID),
		draft.CreatedAt, draft.CreatedBy, draft.ModifiedAt, draft.ModifiedBy,
		boolToInt(draft.Draft.HasActiveEntity), draft.Draft.InProcessByUser, draft.Draft.DraftCreatedAt, draft.Draft.DraftLastChangedAt)
	if err != nil {
		return fmt.Errorf("insert draft %s: %w", draft.ID, err)
	}
	draft.IsActiveEntity = false
	return nil
}

func (s *draftsStore) GetDraft(ctx context.Context, id string) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM incident_drafts WHERE id=?`, id)
	return scanDraft(row)
}

func (s *draftsStore) UpdateDraft(ctx context.Context, draft *Incident) error {
	if draft.Draft == nil {
		return errors.New("draft administrative data missing")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE incident_drafts SET title=?, status_code=?, urgency_code=?, customer_id=?, modified_by=?, draft_last_changed_at=?
		WHERE id=?`,
		draft.Title, draft.StatusCode, nullableCode(draft.UrgencyCode), nullableString(draft.CustomerID), draft.ModifiedBy, now, draft.ID)
	if err != nil {
		return fmt.Errorf("update draft %s: %w", draft.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	draft.Draft.DraftLastChangedAt = now
	return nil
}

func (s *draftsStore) DeleteDraft(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM incident_drafts WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete draft %s: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *draftsStore) DeleteStaleDraft(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM incident_drafts WHERE id=? AND draft_last_changed_at < ?`, id, cutoff.UTC())
	if err != nil {
		return false, fmt.Errorf("delete stale draft %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete stale draft %s: %w", id, err)
	}
	return affected > 0, nil
}

func (s *draftsStore) ListDraftsByUser(ctx context.Context, user string) ([]Incident, error) {
	return s.list(ctx, `SELECT `+draftColumns+` FROM incident_drafts WHERE in_process_by=? ORDER BY draft_last_changed_at DESC, id ASC`, user)
}

func (s *draftsStore) ListDraftsChangedBefore(ctx context.Context, before time.Time, limit int) ([]Incident, error) {
	query := `SELECT ` + draftColumns + ` FROM incident_drafts WHERE draft_last_changed_at < ? ORDER BY draft_last_changed_at ASC, id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.list(ctx, query, before.UTC())
}

func (s *draftsStore) list(ctx context.Context, query string, args ...any) ([]Incident, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Incident
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *d)
	}
	return res, rows.Err()
}

func scanDraft(row rowScanner) (*Incident, error) {
	var inc Incident
	var admin DraftAdministrativeData
	var urgency, customer sql.NullString
	var hasActive int
	if err := row.Scan(&inc.ID, &inc.Title, &inc.StatusCode, &urgency, &customer, &inc.CreatedAt, &inc.CreatedBy, &inc.ModifiedAt, &inc.ModifiedBy,
		&hasActive, &admin.InProcessByUser, &admin.DraftCreatedAt, &admin.DraftLastChangedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	inc.UrgencyCode = urgency.String
	if customer.Valid {
		inc.CustomerID = &customer.String
	}
	admin.HasActiveEntity = hasActive == 1
	inc.Draft = &admin
	inc.IsActiveEntity = false
	return &inc, nil
}
