// Package gateway is the single write path into the configuration store.
// Every create, update, and delete flows through Apply, which performs
// validation, referential and uniqueness checks, cascade computation,
// sequencing, the entity write, the audit append, and change-event emission
// as one atomic unit.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/karateway/controlplane/internal/domain"
	"github.com/karateway/controlplane/internal/store"
)

// Publisher receives the change events of a committed mutation. Publishing
// happens strictly after commit and never blocks the mutation caller.
type Publisher interface {
	Publish(events ...domain.ChangeEvent)
}

// NopPublisher discards events; used when no feed is attached.
type NopPublisher struct{}

func (NopPublisher) Publish(...domain.ChangeEvent) {}

// Mutation describes one requested change.
type Mutation struct {
	Operation  domain.Operation
	EntityType domain.EntityType
	// Payload carries the full desired state for Insert and Update.
	Payload domain.Entity
	// ID targets the entity for Delete.
	ID    uuid.UUID
	Actor string
}

// Gateway applies mutations against the store and publishes change events
// after commit.
type Gateway struct {
	store      store.Store
	publisher  Publisher
	now        func() time.Time
	maxRetries int
	backoff    time.Duration
}

// Option tunes a Gateway.
type Option func(*Gateway)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithRetry bounds the internal retries of transient store failures.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(g *Gateway) {
		if attempts >= 0 {
			g.maxRetries = attempts
		}
		if backoff > 0 {
			g.backoff = backoff
		}
	}
}

// New wires a gateway. The publisher may be NopPublisher.
func New(s store.Store, p Publisher, opts ...Option) *Gateway {
	g := &Gateway{
		store:      s,
		publisher:  p,
		now:        time.Now,
		maxRetries: 3,
		backoff:    50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Create inserts a new entity and returns the stored state.
func (g *Gateway) Create(ctx context.Context, payload domain.Entity, actor string) (domain.Entity, error) {
	return g.Apply(ctx, Mutation{Operation: domain.OpInsert, EntityType: payload.Type(), Payload: payload, Actor: actor})
}

// Update replaces an entity's state and returns the stored result.
func (g *Gateway) Update(ctx context.Context, payload domain.Entity, actor string) (domain.Entity, error) {
	return g.Apply(ctx, Mutation{Operation: domain.OpUpdate, EntityType: payload.Type(), Payload: payload, ID: payload.EntityID(), Actor: actor})
}

// Delete removes an entity and everything that references it.
func (g *Gateway) Delete(ctx context.Context, t domain.EntityType, id uuid.UUID, actor string) error {
	_, err := g.Apply(ctx, Mutation{Operation: domain.OpDelete, EntityType: t, ID: id, Actor: actor})
	return err
}

// Apply validates the mutation, runs it in one store transaction with bounded
// retries of transient failures, and publishes the committed change events.
// On any error the store is untouched: no entity write, no audit record, no
// event survives a failed attempt.
func (g *Gateway) Apply(ctx context.Context, m Mutation) (domain.Entity, error) {
	switch m.Operation {
	case domain.OpInsert, domain.OpUpdate:
		if m.Payload == nil {
			return nil, &domain.ValidationError{Field: "payload", Reason: "is required"}
		}
		if m.EntityType != m.Payload.Type() {
			return nil, &domain.ValidationError{
				Field:  "entity_type",
				Reason: fmt.Sprintf("%q does not match payload type %q", m.EntityType, m.Payload.Type()),
			}
		}
		if err := m.Payload.Validate(); err != nil {
			return nil, err
		}
		if m.Operation == domain.OpUpdate && m.Payload.EntityID() == uuid.Nil {
			return nil, &domain.ValidationError{Field: "id", Reason: "is required for update"}
		}
	case domain.OpDelete:
		if m.ID == uuid.Nil {
			return nil, &domain.ValidationError{Field: "id", Reason: "is required for delete"}
		}
		if _, err := domain.NewEntity(m.EntityType); err != nil {
			return nil, &domain.ValidationError{Field: "entity_type", Reason: err.Error()}
		}
	default:
		return nil, &domain.ValidationError{Field: "operation", Reason: fmt.Sprintf("unknown operation %q", m.Operation)}
	}

	var (
		result domain.Entity
		events []domain.ChangeEvent
		err    error
	)
	for attempt := 0; ; attempt++ {
		result, events, err = g.applyOnce(ctx, m)
		if err == nil || !domain.IsTransient(err) || attempt >= g.maxRetries {
			break
		}
		if waitErr := sleepBackoff(ctx, g.backoff<<uint(attempt)); waitErr != nil {
			return nil, waitErr
		}
	}
	if err != nil {
		if domain.IsTransient(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
		}
		return nil, err
	}

	// Commit is the source of truth; fan-out is asynchronous with respect to
	// the caller and must never delay the mutation's return.
	if len(events) > 0 {
		g.publisher.Publish(events...)
	}
	return result, nil
}

func (g *Gateway) applyOnce(ctx context.Context, m Mutation) (domain.Entity, []domain.ChangeEvent, error) {
	now := g.now().UTC()
	var result domain.Entity
	var events []domain.ChangeEvent

	err := g.store.Mutate(ctx, func(tx store.Tx) error {
		events = events[:0]
		switch m.Operation {
		case domain.OpInsert:
			e, evs, err := g.insert(ctx, tx, m, now)
			if err != nil {
				return err
			}
			result, events = e, evs
		case domain.OpUpdate:
			e, evs, err := g.update(ctx, tx, m, now)
			if err != nil {
				return err
			}
			result, events = e, evs
		case domain.OpDelete:
			evs, err := g.delete(ctx, tx, m, now)
			if err != nil {
				return err
			}
			events = evs
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, events, nil
}

func (g *Gateway) insert(ctx context.Context, tx store.Tx, m Mutation, now time.Time) (domain.Entity, []domain.ChangeEvent, error) {
	payload := domain.CloneEntity(m.Payload)
	domain.Initialize(payload, now)

	if err := checkReferences(ctx, tx, payload); err != nil {
		return nil, nil, err
	}
	if err := tx.CheckUnique(ctx, payload); err != nil {
		return nil, nil, err
	}

	seq, err := tx.NextSequence(ctx, payload.Type())
	if err != nil {
		return nil, nil, err
	}
	if err := tx.InsertEntity(ctx, payload); err != nil {
		return nil, nil, err
	}

	newState, err := domain.EncodeEntity(payload)
	if err != nil {
		return nil, nil, err
	}
	rec := domain.AuditRecord{
		ID:          uuid.New(),
		TableName:   payload.Type(),
		RecordID:    payload.EntityID(),
		Operation:   domain.OpInsert,
		NewState:    newState,
		Actor:       m.Actor,
		Sequence:    seq,
		CommittedAt: now,
	}
	if err := tx.AppendAudit(ctx, rec); err != nil {
		return nil, nil, err
	}

	return payload, []domain.ChangeEvent{eventFor(rec)}, nil
}

func (g *Gateway) update(ctx context.Context, tx store.Tx, m Mutation, now time.Time) (domain.Entity, []domain.ChangeEvent, error) {
	current, err := tx.GetEntity(ctx, m.EntityType, m.Payload.EntityID())
	if err != nil {
		return nil, nil, err
	}

	payload := domain.CloneEntity(m.Payload)
	domain.Touch(payload, current, now)

	if err := checkReferences(ctx, tx, payload); err != nil {
		return nil, nil, err
	}
	if err := tx.CheckUnique(ctx, payload); err != nil {
		return nil, nil, err
	}

	seq, err := tx.NextSequence(ctx, payload.Type())
	if err != nil {
		return nil, nil, err
	}
	if err := tx.UpdateEntity(ctx, payload); err != nil {
		return nil, nil, err
	}

	oldState, err := domain.EncodeEntity(current)
	if err != nil {
		return nil, nil, err
	}
	newState, err := domain.EncodeEntity(payload)
	if err != nil {
		return nil, nil, err
	}
	rec := domain.AuditRecord{
		ID:          uuid.New(),
		TableName:   payload.Type(),
		RecordID:    payload.EntityID(),
		Operation:   domain.OpUpdate,
		OldState:    oldState,
		NewState:    newState,
		Actor:       m.Actor,
		Sequence:    seq,
		CommittedAt: now,
	}
	if err := tx.AppendAudit(ctx, rec); err != nil {
		return nil, nil, err
	}

	return payload, []domain.ChangeEvent{eventFor(rec)}, nil
}

func (g *Gateway) delete(ctx context.Context, tx store.Tx, m Mutation, now time.Time) ([]domain.ChangeEvent, error) {
	target, err := tx.GetEntity(ctx, m.EntityType, m.ID)
	if err != nil {
		return nil, err
	}

	// Children are removed and audited before their parent, each with its own
	// type's sequence, so a parent's delete event is only observable once
	// every dependent is already gone.
	doomed, err := collectCascade(ctx, tx, target)
	if err != nil {
		return nil, err
	}

	events := make([]domain.ChangeEvent, 0, len(doomed))
	for _, e := range doomed {
		seq, err := tx.NextSequence(ctx, e.Type())
		if err != nil {
			return nil, err
		}
		if err := tx.DeleteEntity(ctx, e.Type(), e.EntityID()); err != nil {
			return nil, err
		}
		oldState, err := domain.EncodeEntity(e)
		if err != nil {
			return nil, err
		}
		rec := domain.AuditRecord{
			ID:          uuid.New(),
			TableName:   e.Type(),
			RecordID:    e.EntityID(),
			Operation:   domain.OpDelete,
			OldState:    oldState,
			Actor:       m.Actor,
			Sequence:    seq,
			CommittedAt: now,
		}
		if err := tx.AppendAudit(ctx, rec); err != nil {
			return nil, err
		}
		events = append(events, eventFor(rec))
	}
	return events, nil
}

func checkReferences(ctx context.Context, tx store.Tx, e domain.Entity) error {
	for _, ref := range e.References() {
		parent, err := tx.GetEntity(ctx, ref.Type, ref.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.ReferentialIntegrityError{Type: ref.Type, ID: ref.ID.String()}
		}
		if err != nil {
			return err
		}
		if !parent.Active() {
			return &domain.ReferentialIntegrityError{Type: ref.Type, ID: ref.ID.String()}
		}
	}
	return nil
}

func eventFor(rec domain.AuditRecord) domain.ChangeEvent {
	return domain.ChangeEvent{
		EntityType:  rec.TableName,
		RecordID:    rec.RecordID,
		Operation:   rec.Operation,
		Sequence:    rec.Sequence,
		CommittedAt: rec.CommittedAt,
	}
}

func sleepBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
