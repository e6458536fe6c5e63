package alarm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/store"
	"github.com/de-tools/cost-atlas/pkg/syncx"
	"github.com/rs/zerolog"
)

type EventManager interface {
	List(ctx context.Context, filter domain.EventFilter) (domain.EventPage, error)
	Get(ctx context.Context, id string) (domain.AlarmEvent, error)
	Transition(ctx context.Context, id string, to domain.EventStatus, note string) (domain.AlarmEvent, error)
}

type EventService struct {
	events store.Repository[domain.AlarmEvent]
	locks  *syncx.KeyedMutex
	now    func() time.Time
}

var _ EventManager = (*EventService)(nil)

func NewEventService(events store.Repository[domain.AlarmEvent]) *EventService {
	return &EventService{
		events: events,
		locks:  syncx.NewKeyedMutex(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// List returns events matching filter, most recently triggered first.
func (s *EventService) List(ctx context.Context, filter domain.EventFilter) (domain.EventPage, error) {
	all, err := s.events.List(ctx)
	if err != nil {
		return domain.EventPage{}, fmt.Errorf("unable to list events: %w", err)
	}

	matched := all[:0]
	for _, e := range all {
		if filter.RuleID != "" && e.RuleID != filter.RuleID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, e.Status) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].TriggeredAt.Equal(matched[j].TriggeredAt) {
			return matched[i].TriggeredAt.After(matched[j].TriggeredAt)
		}
		return matched[i].ID < matched[j].ID
	})

	page, size, start, end := store.PageBounds(filter.Page, filter.PageSize, len(matched))
	return domain.EventPage{
		Events:   slices.Clone(matched[start:end]),
		Page:     page,
		PageSize: size,
		Total:    len(matched),
	}, nil
}

func (s *EventService) Get(ctx context.Context, id string) (domain.AlarmEvent, error) {
	return s.events.Get(ctx, id)
}

// Transition moves an event forward in its lifecycle.
func (s *EventService) Transition(
	ctx context.Context,
	id string,
	to domain.EventStatus,
	note string,
) (domain.AlarmEvent, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	event, err := s.events.Get(ctx, id)
	if err != nil {
		return domain.AlarmEvent{}, err
	}
	from := event.Status
	if err := event.Transition(to, s.now(), note); err != nil {
		return domain.AlarmEvent{}, err
	}
	if err := s.events.Put(ctx, id, event); err != nil {
		return domain.AlarmEvent{}, fmt.Errorf("unable to store event: %w", err)
	}
	zerolog.Ctx(ctx).Info().
		Str("event_id", id).
		Str("rule_id", event.RuleID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("alarm event transitioned")
	return event, nil
}

// record applies one triggered measurement: an unresolved event for the same
// rule and window is updated in place, otherwise a new event is opened. It
// reports whether an existing event absorbed the measurement.
func (s *EventService) record(
	ctx context.Context,
	rule domain.AlarmRule,
	m measurement,
	severity domain.Severity,
	newID func() string,
) (domain.AlarmEvent, bool, error) {
	unlockRule := s.locks.Lock("rule:" + rule.ID)
	defer unlockRule()

	all, err := s.events.List(ctx)
	if err != nil {
		return domain.AlarmEvent{}, false, fmt.Errorf("unable to list events: %w", err)
	}
	now := s.now()

	for _, e := range all {
		if e.RuleID != rule.ID || e.WindowKey != m.windowKey || !e.Status.Unresolved() {
			continue
		}
		updated, ok, err := s.refresh(ctx, e.ID, m, severity, now)
		if err != nil {
			return domain.AlarmEvent{}, false, err
		}
		if ok {
			return updated, true, nil
		}
	}

	event := domain.AlarmEvent{
		ID:             newID(),
		RuleID:         rule.ID,
		RuleType:       rule.Type,
		TriggeredAt:    now,
		UpdatedAt:      now,
		CurrentValue:   m.current,
		ThresholdValue: m.threshold,
		Severity:       severity,
		WindowKey:      m.windowKey,
		Status:         domain.EventStatusNew,
	}
	if err := s.events.Put(ctx, event.ID, event); err != nil {
		return domain.AlarmEvent{}, false, fmt.Errorf("unable to store event: %w", err)
	}
	return event, false, nil
}

// refresh updates the event values if it is still unresolved under its lock.
func (s *EventService) refresh(
	ctx context.Context,
	id string,
	m measurement,
	severity domain.Severity,
	now time.Time,
) (domain.AlarmEvent, bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	e, err := s.events.Get(ctx, id)
	if errors.Is(err, errkind.ErrNotFound) {
		return domain.AlarmEvent{}, false, nil
	}
	if err != nil {
		return domain.AlarmEvent{}, false, err
	}
	if !e.Status.Unresolved() {
		return domain.AlarmEvent{}, false, nil
	}
	e.CurrentValue = m.current
	e.ThresholdValue = m.threshold
	e.Severity = severity
	e.UpdatedAt = now
	if err := s.events.Put(ctx, id, e); err != nil {
		return domain.AlarmEvent{}, false, fmt.Errorf("unable to store event: %w", err)
	}
	return e, true, nil
}
