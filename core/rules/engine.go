// Package rules runs the business rules that intercept incident mutations
// before they reach persistence.
package rules

import (
	"context"
	"fmt"

	"incident-desk/core/store"
	"incident-desk/core/utils"
)

type Event string

const (
	BeforeCreate   Event = "before-create"
	BeforeUpdate   Event = "before-update"
	BeforeActivate Event = "before-activate"
	BeforeDelete   Event = "before-delete"
)

type Field string

const (
	FieldTitle    Field = "title"
	FieldStatus   Field = "status_code"
	FieldUrgency  Field = "urgency_code"
	FieldCustomer Field = "customer_id"
)

// Lookup is the read-only view of committed active rows a rule may consult.
// store.IncidentsStore satisfies it.
type Lookup interface {
	GetIncident(ctx context.Context, id string) (*store.Incident, error)
}

// Payload is one in-flight incident and the fields the triggering request sets.
type Payload struct {
	Incident *store.Incident
	touched  map[Field]struct{}
}

func NewPayload(inc *store.Incident, fields ...Field) *Payload {
	p := &Payload{Incident: inc, touched: map[Field]struct{}{}}
	for _, f := range fields {
		p.touched[f] = struct{}{}
	}
	return p
}

func (p *Payload) Touched(f Field) bool {
	_, ok := p.touched[f]
	return ok
}

func (p *Payload) Touch(f Field) {
	if p.touched == nil {
		p.touched = map[Field]struct{}{}
	}
	p.touched[f] = struct{}{}
}

type Context struct {
	Event  Event
	Lookup Lookup
	Logger *utils.Logger
}

type Rule interface {
	Name() string
	Apply(ctx context.Context, rc *Context, p *Payload) error
}

type binding struct {
	rule   Rule
	events map[Event]struct{}
}

// Pipeline holds rules in registration order. It is not safe to Register
// concurrently with Run; build it once at startup.
type Pipeline struct {
	bindings []binding
	logger   *utils.Logger
}

func NewPipeline(logger *utils.Logger) *Pipeline {
	return &Pipeline{logger: logger}
}

// NewDefaultPipeline wires the incident rules in their fixed order.
func NewDefaultPipeline(logger *utils.Logger) *Pipeline {
	p := NewPipeline(logger)
	p.Register(UrgencyEscalation{}, BeforeCreate, BeforeUpdate)
	p.Register(ClosedIncidentGuard{}, BeforeUpdate)
	return p
}

func (p *Pipeline) Register(rule Rule, events ...Event) {
	b := binding{rule: rule, events: map[Event]struct{}{}}
	for _, ev := range events {
		b.events[ev] = struct{}{}
	}
	p.bindings = append(p.bindings, b)
}

// Rules lists the rule names bound to ev, in the order they run.
func (p *Pipeline) Rules(ev Event) []string {
	var names []string
	for _, b := range p.bindings {
		if _, ok := b.events[ev]; ok {
			names = append(names, b.rule.Name())
		}
	}
	return names
}

// Run applies every rule bound to ev to each payload of the batch, rule by
// rule. The first violation or lookup error stops the run and is returned.
func (p *Pipeline) Run(ctx context.Context, ev Event, lookup Lookup, batch []*Payload) error {
	rc := &Context{Event: ev, Lookup: lookup, Logger: p.logger}
	for _, b := range p.bindings {
		if _, ok := b.events[ev]; !ok {
			continue
		}
		for _, payload := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := b.rule.Apply(ctx, rc, payload); err != nil {
				if v, ok := AsViolation(err); ok {
					if v.Rule == "" {
						v.Rule = b.rule.Name()
					}
					return v
				}
				return fmt.Errorf("rule %s on %s: %w", b.rule.Name(), ev, err)
			}
		}
	}
	return nil
}
