package rules

import (
	"context"
	"errors"
	"fmt"

	"incident-desk/core/store"
)

const ClosedIncidentMessage = "Can't modify a closed incident"

// ClosedIncidentGuard rejects updates to incidents whose committed status is
// closed. It reads the active row, never the draft.
type ClosedIncidentGuard struct{}

func (ClosedIncidentGuard) Name() string { return "closed-incident-guard" }

func (ClosedIncidentGuard) Apply(ctx context.Context, rc *Context, p *Payload) error {
	if p.Incident == nil {
		return nil
	}
	if rc.Lookup == nil {
		return errors.New("no persistence lookup available")
	}
	current, err := rc.Lookup.GetIncident(ctx, p.Incident.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFound("incident not found")
		}
		return fmt.Errorf("load incident %s: %w", p.Incident.ID, err)
	}
	if current.StatusCode == store.StatusClosed {
		return Conflict(ClosedIncidentMessage)
	}
	return nil
}
