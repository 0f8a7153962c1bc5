package rules

import (
	"context"
	"strings"

	"incident-desk/core/store"
)

const urgentKeyword = "urgent"

// UrgencyEscalation raises incidents whose title mentions "urgent" to high
// urgency. It never lowers urgency and never fails.
type UrgencyEscalation struct{}

func (UrgencyEscalation) Name() string { return "urgency-escalation" }

func (UrgencyEscalation) Apply(_ context.Context, rc *Context, p *Payload) error {
	inc := p.Incident
	if inc == nil {
		return nil
	}
	// Updates only re-check when they set the title or urgency.
	if rc.Event != BeforeCreate && !p.Touched(FieldTitle) && !p.Touched(FieldUrgency) {
		return nil
	}
	if !strings.Contains(strings.ToLower(inc.Title), urgentKeyword) {
		return nil
	}
	if inc.UrgencyCode == store.UrgencyHigh {
		return nil
	}
	inc.UrgencyCode = store.UrgencyHigh
	p.Touch(FieldUrgency)
	rc.Logger.Infow("urgency escalated", "incident_id", inc.ID, "title", inc.Title, "urgency", store.UrgencyHigh)
	return nil
}
