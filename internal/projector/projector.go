// Package projector applies stored contract events to the domain
// projections. Each event kind has one projector; projectors are
// idempotent because every write goes through find-or-create or
// keyed-update repository operations.
package projector

import (
	"context"

	"github.com/skillnet-labs/examchain-backend/internal/domain"
	"github.com/skillnet-labs/examchain-backend/internal/event"
	"github.com/skillnet-labs/examchain-backend/internal/logger"
	"github.com/skillnet-labs/examchain-backend/internal/store"
)

// Projector applies one kind of contract event to the domain state.
//
// Project returns handled=false, err=nil when a precondition is missing,
// for example a registration event for an exam that has not been indexed
// yet. Such events stay unprocessed and are retried on the next delivery
// or scan. An error means the attempt itself failed.
type Projector interface {
	Kind() event.Kind
	Project(ctx context.Context, evt *store.ChainEvent) (handled bool, err error)
}

// Registry resolves projectors by event kind.
type Registry struct {
	projectors map[event.Kind]Projector
	log        *logger.Logger
}

// NewRegistry wires the projector set for every known event kind.
func NewRegistry(domainStore *domain.Store, log *logger.Logger) *Registry {
	r := &Registry{
		projectors: make(map[event.Kind]Projector),
		log:        log,
	}

	for _, p := range []Projector{
		&examCreatedProjector{store: domainStore, log: log},
		&userRegisteredProjector{store: domainStore, log: log},
		&examCompletedProjector{store: domainStore, log: log},
		&certificateIssuedProjector{store: domainStore, log: log},
	} {
		r.projectors[p.Kind()] = p
	}

	return r
}

// Resolve returns the projector for the event kind.
func (r *Registry) Resolve(kind event.Kind) (Projector, bool) {
	p, ok := r.projectors[kind]
	return p, ok
}

// Kinds returns the event kinds the registry can project.
func (r *Registry) Kinds() []event.Kind {
	kinds := make([]event.Kind, 0, len(r.projectors))
	for k := range r.projectors {
		kinds = append(kinds, k)
	}
	return kinds
}

// requireStructured rejects raw-fallback payloads and payloads missing the
// exam id, the field every event carries.
func requireStructured(evt *store.ChainEvent) (examID string, ok bool) {
	if evt.Payload.IsRaw() {
		return "", false
	}
	examID = evt.Payload.String("examId")
	return examID, examID != ""
}

// Apply runs the projector for the event's kind. A kind with no registered
// projector is deferred, not failed: the row stays unprocessed so a later
// registry that knows the kind can pick it up.
func (r *Registry) Apply(ctx context.Context, evt *store.ChainEvent) (bool, error) {
	p, ok := r.Resolve(evt.Kind())
	if !ok {
		r.log.Debugw("no projector for event kind, leaving unprocessed",
			"event", evt.EventName, "eventId", evt.ID)
		return false, nil
	}
	return p.Project(ctx, evt)
}
