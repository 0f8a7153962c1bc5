// Package incidents owns the incident lifecycle: direct writes to active
// rows and the edit/activate flow through private drafts.
package incidents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"incident-desk/config"
	"incident-desk/core/rules"
	"incident-desk/core/store"
	"incident-desk/core/utils"
)

const sweepBatchSize = 200

type Service struct {
	cfg       config.DraftsConfig
	tx        store.Transactor
	incidents store.IncidentsStore
	drafts    store.DraftsStore
	customers store.CustomersStore
	pipeline  *rules.Pipeline
	logger    *utils.Logger
	now       func() time.Time
}

func NewService(cfg *config.AppConfig, tx store.Transactor, is store.IncidentsStore, ds store.DraftsStore, cs store.CustomersStore, pipeline *rules.Pipeline, logger *utils.Logger) *Service {
	var drafts config.DraftsConfig
	if cfg != nil {
		drafts = cfg.Drafts
	}
	if pipeline == nil {
		pipeline = rules.NewDefaultPipeline(logger)
	}
	return &Service{
		cfg:       drafts,
		tx:        tx,
		incidents: is,
		drafts:    ds,
		customers: cs,
		pipeline:  pipeline,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create validates the whole batch, runs before-create over it and persists
// every element in one transaction. Any failure persists nothing.
func (s *Service) Create(ctx context.Context, user string, inputs []CreateInput) ([]store.Incident, error) {
	if len(inputs) == 0 {
		return nil, rules.Validation("", "at least one incident is required")
	}
	for _, in := range inputs {
		if err := validateInput(in); err != nil {
			return nil, err
		}
	}
	batch := make([]*rules.Payload, 0, len(inputs))
	for _, in := range inputs {
		inc, fields := in.toIncident(user)
		id, err := uuid.NewV4()
		if err != nil {
			return nil, fmt.Errorf("generate incident id: %w", err)
		}
		inc.ID = id.String()
		batch = append(batch, rules.NewPayload(inc, fields...))
	}
	err := s.tx.WithTx(ctx, func(tx store.Tx) error {
		for _, p := range batch {
			if err := checkCustomer(ctx, tx, p.Incident.CustomerID); err != nil {
				return err
			}
		}
		if err := s.pipeline.Run(ctx, rules.BeforeCreate, tx.Incidents(), batch); err != nil {
			return err
		}
		for i, p := range batch {
			if inputs[i].Draft {
				p.Incident.Draft = &store.DraftAdministrativeData{InProcessByUser: user}
				if err := tx.Drafts().CreateDraft(ctx, p.Incident); err != nil {
					return err
				}
				continue
			}
			if err := tx.Incidents().CreateIncident(ctx, p.Incident); err != nil {
				return err
			}
			if err := addTimeline(ctx, tx, p.Incident.ID, eventCreated, p.Incident.Title, user); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]store.Incident, 0, len(batch))
	for _, p := range batch {
		out = append(out, *p.Incident)
	}
	s.logger.Printf("incidents created count=%d user=%s", len(out), user)
	return out, nil
}

// Update patches an active row. The guard read and the versioned write share
// one transaction, so a concurrent close can never be overwritten. A live draft
// held by another user blocks the write.
func (s *Service) Update(ctx context.Context, user, id string, patch Patch) (*store.Incident, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	var out *store.Incident
	err := s.tx.WithTx(ctx, func(tx store.Tx) error {
		current, err := lockActive(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.checkDraftLock(ctx, tx, user, id); err != nil {
			return err
		}
		next := current.Clone()
		fields := patch.apply(next)
		if patch.CustomerID != nil {
			if err := checkCustomer(ctx, tx, next.CustomerID); err != nil {
				return err
			}
		}
		next.ModifiedBy = user
		if err := s.pipeline.Run(ctx, rules.BeforeUpdate, tx.Incidents(), []*rules.Payload{rules.NewPayload(next, fields...)}); err != nil {
			return err
		}
		if err := writeActive(ctx, tx, next, current.Version); err != nil {
			return err
		}
		if err := addTimeline(ctx, tx, id, eventUpdated, describeChange(current, next), user); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Edit opens a draft copy of an active incident for user.
func (s *Service) Edit(ctx context.Context, user, id string) (*store.Incident, error) {
	var out *store.Incident
	err := s.tx.WithTx(ctx, func(tx store.Tx) error {
		active, err := lockActive(ctx, tx, id)
		if err != nil {
			return err
		}
		existing, err := tx.Drafts().GetDraft(ctx, id)
		switch {
		case err == nil:
			if existing.Draft.InProcessByUser == user {
				out = existing
				return nil
			}
			if !s.lockExpired(existing) {
				return rules.Conflict(LockedMessage)
			}
			if err := tx.Drafts().DeleteDraft(ctx, id); err != nil {
				return err
			}
			s.logger.Printf("draft lock taken over id=%s from=%s to=%s", id, existing.Draft.InProcessByUser, user)
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		draft := active.Clone()
		draft.ModifiedBy = user
		draft.Draft = &store.DraftAdministrativeData{HasActiveEntity: true, InProcessByUser: user}
		if err := tx.Drafts().CreateDraft(ctx, draft); err != nil {
			return err
		}
		out = draft
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PatchDraft edits user's own draft. Rules run at activation, not here.
func (s *Service) PatchDraft(ctx context.Context, user, id string, patch Patch) (*store.Incident, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	var out *store.Incident
	err := s.tx.WithTx(ctx, func(tx store.Tx) error {
		draft, err := ownDraft(ctx, tx.Drafts(), user, id)
		if err != nil {
			return err
		}
		patch.apply(draft)
		if patch.CustomerID != nil {
			if err := checkCustomer(ctx, tx, draft.CustomerID); err != nil {
				return err
			}
		}
		draft.ModifiedBy = user
		if err := tx.Drafts().UpdateDraft(ctx, draft); err != nil {
			return err
		}
		out = draft
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Activate promotes user's draft to the active row and removes the draft.
// A rejected activation rolls back and leaves the draft as it was.
func (s *Service) Activate(ctx context.Context, user, id string) (*store.Incident, error) {
	var out *store.Incident
	err := s.tx.WithTx(ctx, func(tx store.Tx) error {
		draft, err := ownDraft(ctx, tx.Drafts(), user, id)
		if err != nil {
			return err
		}
		var next *store.Incident
		if draft.Draft.HasActiveEntity {
			current, err := lockActive(ctx, tx, id)
			if err != nil {
				return err
			}
			next = current.Clone()
			fields := overlay(next, draft)
			next.ModifiedBy = user
			batch := []*rules.Payload{rules.NewPayload(next, fields...)}
			if err := s.pipeline.Run(ctx, rules.BeforeUpdate, tx.Incidents(), batch); err != nil {
				return err
			}
			if err := s.pipeline.Run(ctx, rules.BeforeActivate, tx.Incidents(), batch); err != nil {
				return err
			}
			if err := writeActive(ctx, tx, next, current.Version); err != nil {
				return err
			}
			if err := addTimeline(ctx, tx, id, eventActivated, describeChange(current, next), user); err != nil {
				return err
			}
		} else {
			next = draft.Clone()
			next.Draft = nil
			next.ModifiedBy = user
			next.ModifiedAt = s.now()
			fields := []rules.Field{rules.FieldTitle, rules.FieldStatus}
			if next.UrgencyCode != "" {
				fields = append(fields, rules.FieldUrgency)
			}
			if next.CustomerID != nil {
				fields = append(fields, rules.FieldCustomer)
			}
			batch := []*rules.Payload{rules.NewPayload(next, fields...)}
			if err := s.pipeline.Run(ctx, rules.BeforeCreate, tx.Incidents(), batch); err != nil {
				return err
			}
			if err := s.pipeline.Run(ctx, rules.BeforeActivate, tx.Incidents(), batch); err != nil {
				return err
			}
			if err := tx.Incidents().CreateIncident(ctx, next); err != nil {
				return err
			}
			if err := addTimeline(ctx, tx, id, eventCreated, next.Title, user); err != nil {
				return err
			}
		}
		if err := tx.Drafts().DeleteDraft(ctx, id); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Printf("draft activated id=%s user=%s", id, user)
	return out, nil
}

// Discard drops user's draft. The active row, if any, is untouched.
func (s *Service) Discard(ctx context.Context, user, id string) error {
	return s.tx.WithTx(ctx, func(tx store.Tx) error {
		if _, err := ownDraft(ctx, tx.Drafts(), user, id); err != nil {
			return err
		}
		return tx.Drafts().DeleteDraft(ctx, id)
	})
}

// Delete removes an active incident, its timeline and any abandoned draft.
func (s *Service) Delete(ctx context.Context, user, id string) error {
	err := s.tx.WithTx(ctx, func(tx store.Tx) error {
		current, err := lockActive(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.pipeline.Run(ctx, rules.BeforeDelete, tx.Incidents(), []*rules.Payload{rules.NewPayload(current)}); err != nil {
			return err
		}
		if err := s.checkDraftLock(ctx, tx, user, id); err != nil {
			return err
		}
		if err := tx.Drafts().DeleteDraft(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return tx.Incidents().DeleteIncident(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Printf("incident deleted id=%s user=%s", id, user)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*store.Incident, error) {
	inc, err := s.incidents.GetIncident(ctx, id)
	if err != nil {
		return nil, notFound(err, "incident not found")
	}
	return inc, nil
}

// GetDraft returns user's draft. Drafts of other users are reported as
// missing.
func (s *Service) GetDraft(ctx context.Context, user, id string) (*store.Incident, error) {
	return ownDraft(ctx, s.drafts, user, id)
}

func (s *Service) List(ctx context.Context, filter store.IncidentFilter) ([]store.Incident, error) {
	return s.incidents.ListIncidents(ctx, filter)
}

func (s *Service) ListDrafts(ctx context.Context, user string) ([]store.Incident, error) {
	return s.drafts.ListDraftsByUser(ctx, user)
}

func (s *Service) Timeline(ctx context.Context, id string, limit int) ([]store.IncidentTimelineEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.incidents.ListIncidentTimeline(ctx, id, limit)
}

func (s *Service) Customers(ctx context.Context) ([]CustomerView, error) {
	items, err := s.customers.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CustomerView, 0, len(items))
	for _, c := range items {
		view, err := s.expandCustomer(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, *view)
	}
	return out, nil
}

func (s *Service) Customer(ctx context.Context, id string) (*CustomerView, error) {
	c, err := s.customers.GetCustomer(ctx, id)
	if err != nil {
		return nil, notFound(err, "customer not found")
	}
	return s.expandCustomer(ctx, *c)
}

func (s *Service) expandCustomer(ctx context.Context, c store.Customer) (*CustomerView, error) {
	items, err := s.incidents.ListIncidents(ctx, store.IncidentFilter{CustomerID: c.ID})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []store.Incident{}
	}
	return &CustomerView{Customer: c, Incidents: items}, nil
}

func (s *Service) State(ctx context.Context, id string) (State, error) {
	_, err := s.incidents.GetIncident(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	hasActive := err == nil
	_, err = s.drafts.GetDraft(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	hasDraft := err == nil
	switch {
	case hasActive && hasDraft:
		return StateActiveWithDraft, nil
	case hasActive:
		return StateActiveOnly, nil
	case hasDraft:
		return StateDraftOnly, nil
	default:
		return StateNoEntity, nil
	}
}

// SweepStaleDrafts discards drafts untouched for longer than drafts.max_age
// and returns how many were removed.
func (s *Service) SweepStaleDrafts(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.UTC().Add(-s.cfg.EffectiveMaxAge())
	removed := 0
	for {
		stale, err := s.drafts.ListDraftsChangedBefore(ctx, cutoff, sweepBatchSize)
		if err != nil {
			return removed, err
		}
		if len(stale) == 0 {
			break
		}
		// A draft edited after the listing is no longer stale and stays.
		batchRemoved := 0
		err = s.tx.WithTx(ctx, func(tx store.Tx) error {
			for _, d := range stale {
				deleted, err := tx.Drafts().DeleteStaleDraft(ctx, d.ID, cutoff)
				if err != nil {
					return err
				}
				if deleted {
					batchRemoved++
				}
			}
			return nil
		})
		if err != nil {
			return removed, err
		}
		removed += batchRemoved
		if len(stale) < sweepBatchSize {
			break
		}
	}
	if removed > 0 {
		s.logger.Printf("stale drafts removed count=%d cutoff=%s", removed, cutoff.Format(time.RFC3339))
	}
	return removed, nil
}

func (s *Service) lockExpired(draft *store.Incident) bool {
	if draft.Draft == nil {
		return true
	}
	return s.now().Sub(draft.Draft.DraftLastChangedAt) > s.cfg.EffectiveLockTimeout()
}

// checkDraftLock fails with LockedMessage while another user holds a live
// draft of id.
func (s *Service) checkDraftLock(ctx context.Context, tx store.Tx, user, id string) error {
	draft, err := tx.Drafts().GetDraft(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	if draft.Draft.InProcessByUser != user && !s.lockExpired(draft) {
		return rules.Conflict(LockedMessage)
	}
	return nil
}

func lockActive(ctx context.Context, tx store.Tx, id string) (*store.Incident, error) {
	inc, err := tx.Incidents().GetIncidentForUpdate(ctx, id)
	if err != nil {
		return nil, notFound(err, "incident not found")
	}
	return inc, nil
}

func ownDraft(ctx context.Context, ds store.DraftsStore, user, id string) (*store.Incident, error) {
	draft, err := ds.GetDraft(ctx, id)
	if err != nil {
		return nil, notFound(err, "draft not found")
	}
	if draft.Draft == nil || draft.Draft.InProcessByUser != user {
		return nil, rules.NotFound("draft not found")
	}
	return draft, nil
}

// writeActive performs the versioned write and, when it affects no row,
// re-reads inside the same transaction to say why.
func writeActive(ctx context.Context, tx store.Tx, next *store.Incident, expectedVersion int) error {
	err := tx.Incidents().UpdateIncident(ctx, next, expectedVersion)
	if err == nil || !errors.Is(err, store.ErrConflict) {
		return err
	}
	current, rerr := tx.Incidents().GetIncident(ctx, next.ID)
	if rerr != nil {
		return notFound(rerr, "incident not found")
	}
	if current.StatusCode == store.StatusClosed {
		return rules.Conflict(rules.ClosedIncidentMessage)
	}
	return rules.Conflict(ConcurrentMessage)
}

func checkCustomer(ctx context.Context, tx store.Tx, id *string) error {
	if id == nil {
		return nil
	}
	if _, err := tx.Customers().GetCustomer(ctx, *id); err != nil {
		return notFound(err, "customer not found")
	}
	return nil
}

func addTimeline(ctx context.Context, tx store.Tx, id, eventType, message, user string) error {
	return tx.Incidents().AddIncidentTimeline(ctx, &store.IncidentTimelineEvent{
		IncidentID: id,
		EventType:  eventType,
		Message:    message,
		CreatedBy:  user,
	})
}

func describeChange(before, after *store.Incident) string {
	var parts []string
	if before.Title != after.Title {
		parts = append(parts, "title")
	}
	if before.StatusCode != after.StatusCode {
		parts = append(parts, fmt.Sprintf("status %s -> %s", before.StatusCode, after.StatusCode))
	}
	if before.UrgencyCode != after.UrgencyCode {
		parts = append(parts, fmt.Sprintf("urgency %s -> %s", orDash(before.UrgencyCode), orDash(after.UrgencyCode)))
	}
	if customerRef(before.CustomerID) != customerRef(after.CustomerID) {
		parts = append(parts, "customer")
	}
	if len(parts) == 0 {
		return "no changes"
	}
	return strings.Join(parts, ", ")
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func notFound(err error, message string) error {
	if errors.Is(err, store.ErrNotFound) {
		return rules.NotFound(message)
	}
	return err
}
