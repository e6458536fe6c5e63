package alarm

import (
	"context"
	"testing"
	"time"

	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/store"
	"github.com/de-tools/cost-atlas/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEvents(t *testing.T, events ...domain.AlarmEvent) *EventService {
	t.Helper()
	repo := store.NewRepositories(memory.NewKV()).Events
	for _, e := range events {
		require.NoError(t, repo.Put(context.Background(), e.ID, e))
	}
	svc := NewEventService(repo)
	svc.now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestEventService_Transition(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.EventStatus
		to      domain.EventStatus
		wantErr errkind.Kind
	}{
		{name: "acknowledge", from: domain.EventStatusNew, to: domain.EventStatusAcknowledged},
		{name: "resolve new", from: domain.EventStatusNew, to: domain.EventStatusResolved},
		{name: "resolve acknowledged", from: domain.EventStatusAcknowledged, to: domain.EventStatusResolved},
		{name: "reopen resolved", from: domain.EventStatusResolved, to: domain.EventStatusNew, wantErr: errkind.InvalidTransition},
		{name: "back to new", from: domain.EventStatusAcknowledged, to: domain.EventStatusNew, wantErr: errkind.InvalidTransition},
		{name: "same status", from: domain.EventStatusNew, to: domain.EventStatusNew, wantErr: errkind.InvalidTransition},
		{name: "unknown status", from: domain.EventStatusNew, to: "closed", wantErr: errkind.InvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := seedEvents(t, domain.AlarmEvent{ID: "e1", RuleID: "r1", Status: tt.from})
			ctx := context.Background()

			got, err := svc.Transition(ctx, "e1", tt.to, "by test")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, errkind.KindOf(err))

				stored, getErr := svc.Get(ctx, "e1")
				require.NoError(t, getErr)
				assert.Equal(t, tt.from, stored.Status)
				assert.Empty(t, stored.History)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.to, got.Status)
			require.Len(t, got.History, 1)
			assert.Equal(t, domain.EventTransition{
				From: tt.from,
				To:   tt.to,
				At:   time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
				Note: "by test",
			}, got.History[0])
		})
	}
}

func TestEventService_TransitionMissing(t *testing.T) {
	svc := seedEvents(t)
	_, err := svc.Transition(context.Background(), "nope", domain.EventStatusResolved, "")
	assert.ErrorIs(t, err, errkind.ErrNotFound)
}

func TestEventService_List(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := seedEvents(t,
		domain.AlarmEvent{ID: "a", RuleID: "r1", Status: domain.EventStatusNew, TriggeredAt: base},
		domain.AlarmEvent{ID: "b", RuleID: "r1", Status: domain.EventStatusResolved, TriggeredAt: base.Add(time.Hour)},
		domain.AlarmEvent{ID: "c", RuleID: "r2", Status: domain.EventStatusAcknowledged, TriggeredAt: base.Add(2 * time.Hour)},
	)
	ctx := context.Background()

	t.Run("newest first", func(t *testing.T) {
		page, err := svc.List(ctx, domain.EventFilter{})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		require.Len(t, page.Events, 3)
		assert.Equal(t, []string{"c", "b", "a"}, []string{page.Events[0].ID, page.Events[1].ID, page.Events[2].ID})
	})

	t.Run("by rule", func(t *testing.T) {
		page, err := svc.List(ctx, domain.EventFilter{RuleID: "r1"})
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)
	})

	t.Run("unresolved", func(t *testing.T) {
		page, err := svc.List(ctx, domain.EventFilter{
			Statuses: []domain.EventStatus{domain.EventStatusNew, domain.EventStatusAcknowledged},
		})
		require.NoError(t, err)
		require.Len(t, page.Events, 2)
		assert.Equal(t, "c", page.Events[0].ID)
		assert.Equal(t, "a", page.Events[1].ID)
	})

	t.Run("paged", func(t *testing.T) {
		page, err := svc.List(ctx, domain.EventFilter{Page: 2, PageSize: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		assert.Equal(t, 2, page.Page)
		require.Len(t, page.Events, 1)
		assert.Equal(t, "a", page.Events[0].ID)
	})
}
