package incidents

import (
	"strings"

	"incident-desk/core/rules"
	"incident-desk/core/store"
)

// State is where an incident id sits in the draft lifecycle.
type State string

const (
	StateNoEntity        State = "no_entity"
	StateDraftOnly       State = "draft_only"
	StateActiveOnly      State = "active_only"
	StateActiveWithDraft State = "active_with_draft"
)

const (
	LockedMessage     = "incident is locked by another user"
	ConcurrentMessage = "incident was modified concurrently"
)

const (
	eventCreated   = "created"
	eventUpdated   = "updated"
	eventActivated = "activated"
)

// CreateInput is one element of a create request. Draft creates the
// incident as a draft owned by the caller instead of an active row.
type CreateInput struct {
	Title       string `json:"title" validate:"required,max=255"`
	StatusCode  string `json:"status_code" validate:"omitempty,oneof=N I C"`
	UrgencyCode string `json:"urgency_code" validate:"omitempty,oneof=L M H"`
	CustomerID  string `json:"customer_id" validate:"omitempty,max=64"`
	Draft       bool   `json:"draft"`
}

func (in CreateInput) toIncident(user string) (*store.Incident, []rules.Field) {
	inc := &store.Incident{
		Title:       strings.TrimSpace(in.Title),
		StatusCode:  in.StatusCode,
		UrgencyCode: in.UrgencyCode,
		CreatedBy:   user,
		ModifiedBy:  user,
	}
	if inc.StatusCode == "" {
		inc.StatusCode = store.StatusNew
	}
	fields := []rules.Field{rules.FieldTitle, rules.FieldStatus}
	if in.UrgencyCode != "" {
		fields = append(fields, rules.FieldUrgency)
	}
	if id := strings.TrimSpace(in.CustomerID); id != "" {
		inc.CustomerID = &id
		fields = append(fields, rules.FieldCustomer)
	}
	return inc, fields
}

// Patch carries the fields of a partial update. Nil means untouched; an
// empty customer id clears the reference, an empty urgency clears urgency.
type Patch struct {
	Title       *string `json:"title"`
	StatusCode  *string `json:"status_code"`
	UrgencyCode *string `json:"urgency_code"`
	CustomerID  *string `json:"customer_id"`
}

func (p Patch) empty() bool {
	return p.Title == nil && p.StatusCode == nil && p.UrgencyCode == nil && p.CustomerID == nil
}

// apply writes the patch onto inc and reports which fields it set.
func (p Patch) apply(inc *store.Incident) []rules.Field {
	var fields []rules.Field
	if p.Title != nil {
		inc.Title = strings.TrimSpace(*p.Title)
		fields = append(fields, rules.FieldTitle)
	}
	if p.StatusCode != nil {
		inc.StatusCode = *p.StatusCode
		fields = append(fields, rules.FieldStatus)
	}
	if p.UrgencyCode != nil {
		inc.UrgencyCode = *p.UrgencyCode
		fields = append(fields, rules.FieldUrgency)
	}
	if p.CustomerID != nil {
		if id := strings.TrimSpace(*p.CustomerID); id != "" {
			inc.CustomerID = &id
		} else {
			inc.CustomerID = nil
		}
		fields = append(fields, rules.FieldCustomer)
	}
	return fields
}

// overlay copies the business fields of draft onto base and returns the
// fields that differ.
func overlay(base, draft *store.Incident) []rules.Field {
	var fields []rules.Field
	if base.Title != draft.Title {
		base.Title = draft.Title
		fields = append(fields, rules.FieldTitle)
	}
	if base.StatusCode != draft.StatusCode {
		base.StatusCode = draft.StatusCode
		fields = append(fields, rules.FieldStatus)
	}
	if base.UrgencyCode != draft.UrgencyCode {
		base.UrgencyCode = draft.UrgencyCode
		fields = append(fields, rules.FieldUrgency)
	}
	if customerRef(base.CustomerID) != customerRef(draft.CustomerID) {
		if draft.CustomerID != nil {
			id := *draft.CustomerID
			base.CustomerID = &id
		} else {
			base.CustomerID = nil
		}
		fields = append(fields, rules.FieldCustomer)
	}
	return fields
}

func customerRef(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}

// CustomerView is a customer with its active incidents expanded.
type CustomerView struct {
	store.Customer
	Incidents []store.Incident `json:"incidents"`
}
