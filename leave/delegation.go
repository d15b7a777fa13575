package leave

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// Delegation hands a delegator's approval authority to a delegate for an
// inclusive window of days.
type Delegation struct {
	ID          DelegationID
	DelegatorID EmployeeID
	DelegateID  EmployeeID
	Window      generic.Period
	Reason      string
	CreatedAt   time.Time
	RevokedAt   *time.Time
}

// ActiveOn reports whether the delegation covers day.
func (d Delegation) ActiveOn(day generic.TimePoint) bool {
	return d.RevokedAt == nil && d.Window.Contains(day)
}

// DelegationRegistry guarantees at most one active delegation per delegator.
type DelegationRegistry struct {
	store  Store
	locks  *generic.KeyedMutex
	now    func() time.Time
	logger *zap.Logger
}

func NewDelegationRegistry(store Store, locks *generic.KeyedMutex, logger *zap.Logger) *DelegationRegistry {
	if locks == nil {
		locks = generic.NewKeyedMutex()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DelegationRegistry{store: store, locks: locks, now: time.Now, logger: logger.Named("delegations")}
}

// SetDelegation records a new delegation. It fails with
// OverlappingDelegationError when the delegator already has an active or
// future delegation whose window overlaps [start, end].
func (r *DelegationRegistry) SetDelegation(ctx context.Context, delegatorID, delegateID EmployeeID, start, end generic.TimePoint, reason string) (Delegation, error) {
	if delegatorID == "" || delegateID == "" {
		return Delegation{}, &ValidationError{Field: "delegate_id", Message: "delegator and delegate are required"}
	}
	if delegatorID == delegateID {
		return Delegation{}, &ValidationError{Field: "delegate_id", Message: "cannot delegate to oneself"}
	}
	window, err := generic.NewPeriod(start, end)
	if err != nil {
		return Delegation{}, &ValidationError{Field: "end", Message: "end date is before start date"}
	}
	now := r.now()
	today := generic.FromTime(now)
	if window.End.Before(today) {
		return Delegation{}, &ValidationError{Field: "end", Message: "delegation window is already over"}
	}

	unlock := r.locks.Lock("delegator:" + string(delegatorID))
	defer unlock()

	d := Delegation{
		ID:          DelegationID(uuid.NewString()),
		DelegatorID: delegatorID,
		DelegateID:  delegateID,
		Window:      window,
		Reason:      reason,
		CreatedAt:   now,
	}
	// check and insert in one transaction so that other processes sharing
	// the store cannot interleave between them
	err = r.store.WithTx(ctx, func(tx Store) error {
		if err := tx.LockDelegator(ctx, delegatorID); err != nil {
			return err
		}
		existing, err := tx.ListDelegations(ctx, DelegationFilter{DelegatorID: delegatorID})
		if err != nil {
			return fmt.Errorf("list delegations of %s: %w", delegatorID, err)
		}
		for _, other := range existing {
			if other.RevokedAt != nil || other.Window.End.Before(today) {
				continue
			}
			if other.Window.Overlaps(window) {
				return &OverlappingDelegationError{DelegatorID: delegatorID, Existing: other}
			}
		}
		if err := tx.SaveDelegation(ctx, d); err != nil {
			return fmt.Errorf("save delegation: %w", err)
		}
		return nil
	})
	if err != nil {
		return Delegation{}, err
	}

	r.logger.Info("delegation set",
		zap.String("delegation_id", string(d.ID)),
		zap.String("delegator_id", string(delegatorID)),
		zap.String("delegate_id", string(delegateID)),
		zap.Stringer("window", window))
	return d, nil
}

// Revoke ends a delegation early. Only the delegator may revoke.
func (r *DelegationRegistry) Revoke(ctx context.Context, id DelegationID, actor EmployeeID) (Delegation, error) {
	d, err := r.store.GetDelegation(ctx, id)
	if errors.Is(err, generic.ErrNotFound) {
		return Delegation{}, fmt.Errorf("%w: %s", ErrDelegationNotFound, id)
	}
	if err != nil {
		return Delegation{}, err
	}

	unlock := r.locks.Lock("delegator:" + string(d.DelegatorID))
	defer unlock()

	err = r.store.WithTx(ctx, func(tx Store) error {
		if err := tx.LockDelegator(ctx, d.DelegatorID); err != nil {
			return err
		}
		// reload under the lock
		current, err := tx.GetDelegation(ctx, id)
		if err != nil {
			return err
		}
		if actor != current.DelegatorID {
			return &NotAuthorizedError{Actor: actor, Reason: "only the delegator can revoke a delegation"}
		}
		if current.RevokedAt != nil {
			return &InvalidStateError{Entity: "delegation", ID: string(id), State: "revoked", Op: "revoke"}
		}
		now := r.now()
		current.RevokedAt = &now
		if err := tx.SaveDelegation(ctx, current); err != nil {
			return fmt.Errorf("save delegation: %w", err)
		}
		d = current
		return nil
	})
	if err != nil {
		return Delegation{}, err
	}
	return d, nil
}

// GetActiveDelegations yields the delegations active on asOf. Each range
// over the sequence reads the store afresh, so it can be iterated again.
func (r *DelegationRegistry) GetActiveDelegations(ctx context.Context, asOf generic.TimePoint) iter.Seq2[Delegation, error] {
	return func(yield func(Delegation, error) bool) {
		all, err := r.store.ListDelegations(ctx, DelegationFilter{})
		if err != nil {
			yield(Delegation{}, err)
			return
		}
		for _, d := range all {
			if !d.ActiveOn(asOf) {
				continue
			}
			if !yield(d, nil) {
				return
			}
		}
	}
}

// activeFor returns the delegation active for delegatorID on day.
func (r *DelegationRegistry) activeFor(ctx context.Context, delegatorID EmployeeID, day generic.TimePoint) (Delegation, bool, error) {
	list, err := r.store.ListDelegations(ctx, DelegationFilter{DelegatorID: delegatorID})
	if err != nil {
		return Delegation{}, false, err
	}
	for _, d := range list {
		if d.ActiveOn(day) {
			return d, true, nil
		}
	}
	return Delegation{}, false, nil
}
