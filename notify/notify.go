// Package notify provides leave.Notifier implementations.
package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// Log writes every notification as a structured log line. It is the default
// sink when no delivery channel is configured.
type Log struct {
	logger *zap.Logger
}

var _ leave.Notifier = (*Log)(nil)

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("notify")}
}

func (l *Log) Notify(ctx context.Context, to leave.EmployeeID, event leave.EventType, n leave.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fields := []zap.Field{
		zap.String("to", string(to)),
		zap.String("event", string(event)),
		zap.String("request_id", string(n.RequestID)),
		zap.String("employee_id", string(n.EmployeeID)),
		zap.String("leave_type_id", string(n.LeaveTypeID)),
		zap.String("status", string(n.Status)),
		zap.Stringer("window", n.Window),
	}
	if n.Step != 0 {
		fields = append(fields, zap.Stringer("step", n.Step))
	}
	if n.Comment != "" {
		fields = append(fields, zap.String("comment", n.Comment))
	}
	l.logger.Info("notification", fields...)
	return nil
}

// Multi delivers to every notifier in order. One failing sink does not stop
// the others; the errors are joined.
type Multi []leave.Notifier

var _ leave.Notifier = Multi(nil)

func (m Multi) Notify(ctx context.Context, to leave.EmployeeID, event leave.EventType, n leave.Notification) error {
	var errs []error
	for i, sink := range m {
		if err := sink.Notify(ctx, to, event, n); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
