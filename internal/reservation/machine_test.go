package reservation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/hub-lending/internal/model"
)

func TestNextTable(t *testing.T) {
	tests := []struct {
		name     string
		from     State
		ev       Event
		pickedUp bool
		want     Step
	}{
		{"confirm request", model.StateRequested, EventConfirm, false, Step{To: model.StateActive}},
		{"expire request", model.StateRequested, EventExpire, false, Step{To: model.StateExpired, Release: true}},
		{"cancel request", model.StateRequested, EventCancel, false, Step{To: model.StateCancelled, Release: true}},
		{"record pickup", model.StateActive, EventPickup, false, Step{To: model.StateActive, RecordPickup: true}},
		{"cancel before pickup", model.StateActive, EventCancel, false, Step{To: model.StateCancelled, Release: true}},
		{"return after pickup", model.StateActive, EventReturn, true, Step{To: model.StateReturned, Release: true}},
		{"overdue before pickup", model.StateActive, EventMarkOverdue, false, Step{To: model.StateOverdue}},
		{"overdue after pickup", model.StateActive, EventMarkOverdue, true, Step{To: model.StateOverdue}},
		{"late return", model.StateOverdue, EventReturn, true, Step{To: model.StateReturned, Release: true, Late: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(tt.from, tt.ev, tt.pickedUp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextRejects(t *testing.T) {
	tests := []struct {
		name     string
		from     State
		ev       Event
		pickedUp bool
	}{
		{"pickup of unconfirmed request", model.StateRequested, EventPickup, false},
		{"return of unconfirmed request", model.StateRequested, EventReturn, false},
		{"overdue of unconfirmed request", model.StateRequested, EventMarkOverdue, false},
		{"confirm twice", model.StateActive, EventConfirm, false},
		{"expire active", model.StateActive, EventExpire, false},
		{"second pickup", model.StateActive, EventPickup, true},
		{"cancel after pickup", model.StateActive, EventCancel, true},
		{"return without pickup", model.StateActive, EventReturn, false},
		{"cancel overdue", model.StateOverdue, EventCancel, true},
		{"overdue twice", model.StateOverdue, EventMarkOverdue, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Next(tt.from, tt.ev, tt.pickedUp)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestTerminalStatesAcceptNothing(t *testing.T) {
	events := []Event{EventConfirm, EventPickup, EventReturn, EventCancel, EventExpire, EventMarkOverdue}
	for _, st := range []State{model.StateReturned, model.StateCancelled, model.StateExpired} {
		for _, ev := range events {
			_, err := Next(st, ev, true)
			assert.ErrorIs(t, err, ErrAlreadyTerminal, "%s on %s", ev, st)
		}
	}
}

func TestReleaseOnlyWhenLeavingCommitted(t *testing.T) {
	events := []Event{EventConfirm, EventPickup, EventReturn, EventCancel, EventExpire, EventMarkOverdue}
	for _, from := range model.AllStates {
		for _, ev := range events {
			for _, picked := range []bool{false, true} {
				step, err := Next(from, ev, picked)
				if err != nil {
					continue
				}
				assert.Equal(t, from.IsCommitted() && !step.To.IsCommitted(), step.Release,
					"%s --%s--> %s", from, ev, step.To)
				assert.Equal(t, step.To.IsTerminal(), step.LeavesService())
			}
		}
	}
}

func TestParseState(t *testing.T) {
	st, err := ParseState("overdue")
	require.NoError(t, err)
	assert.Equal(t, model.StateOverdue, st)
	_, err = ParseState("picked_up")
	assert.Error(t, err)
}
