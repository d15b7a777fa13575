package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, to leave.EmployeeID, event leave.EventType, n leave.Notification) error {
	return m.Called(ctx, to, event, n).Error(0)
}

func sampleNotification() leave.Notification {
	return leave.Notification{
		RequestID:   "req-1",
		EmployeeID:  "alice",
		LeaveTypeID: "annual",
		Status:      leave.StatusPending,
		Step:        leave.RoleLineManager,
		Window: generic.Period{
			Start: generic.NewTimePoint(2025, 3, 3),
			End:   generic.NewTimePoint(2025, 3, 5),
		},
	}
}

func TestLog_WritesStructuredEntry(t *testing.T) {
	// GIVEN: A log sink backed by an observer
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLog(zap.New(core))

	// WHEN: A notification is delivered
	err := sink.Notify(context.Background(), "bob", leave.EventApprovalRequired, sampleNotification())

	// THEN: One entry carries the routing fields
	require.NoError(t, err)
	entries := logs.FilterMessage("notification").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "bob", fields["to"])
	assert.Equal(t, "approval_required", fields["event"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "line_manager", fields["step"])
	assert.NotContains(t, fields, "comment")
}

func TestLog_CancelledContext(t *testing.T) {
	// GIVEN: An already cancelled context
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLog(zap.New(core))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// WHEN: Delivering
	err := sink.Notify(ctx, "bob", leave.EventRequestApproved, sampleNotification())

	// THEN: Nothing is logged and the context error is returned
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, logs.Len())
}

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	// GIVEN: Three sinks, the first of which fails
	boom := errors.New("smtp down")
	n := sampleNotification()
	first, second, third := &mockNotifier{}, &mockNotifier{}, &mockNotifier{}
	first.On("Notify", mock.Anything, leave.EmployeeID("bob"), leave.EventApprovalRequired, n).Return(boom)
	second.On("Notify", mock.Anything, leave.EmployeeID("bob"), leave.EventApprovalRequired, n).Return(nil)
	third.On("Notify", mock.Anything, leave.EmployeeID("bob"), leave.EventApprovalRequired, n).Return(nil)

	// WHEN: Delivering through Multi
	err := Multi{first, second, third}.Notify(context.Background(), "bob", leave.EventApprovalRequired, n)

	// THEN: Every sink was called and the failure surfaces
	assert.ErrorIs(t, err, boom)
	first.AssertExpectations(t)
	second.AssertExpectations(t)
	third.AssertExpectations(t)
}

func TestMulti_Empty(t *testing.T) {
	assert.NoError(t, Multi(nil).Notify(context.Background(), "bob", leave.EventRequestCancelled, sampleNotification()))
}
