package leave

import (
	"context"
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// Router decides who must act on an approval step.
type Router struct {
	directory   Directory
	delegations *DelegationRegistry
}

func NewRouter(directory Directory, delegations *DelegationRegistry) *Router {
	return &Router{directory: directory, delegations: delegations}
}

// Assignment is a resolved approver. Structural differs from Approver when a
// delegation is in effect.
type Assignment struct {
	Role       Role
	Structural EmployeeID
	Approver   EmployeeID
	Delegation *Delegation
}

// ResolveApprover returns the identity that must act for role on behalf of
// employeeID on onDate: the structural approver, or that approver's delegate
// when a delegation covers onDate. Delegations are not followed
// transitively.
func (r *Router) ResolveApprover(ctx context.Context, employeeID EmployeeID, role Role, onDate generic.TimePoint) (EmployeeID, error) {
	a, err := r.resolve(ctx, employeeID, role, onDate)
	if err != nil {
		return "", err
	}
	return a.Approver, nil
}

func (r *Router) resolve(ctx context.Context, employeeID EmployeeID, role Role, onDate generic.TimePoint) (Assignment, error) {
	if !role.IsApprover() {
		return Assignment{}, &ValidationError{Field: "role", Message: fmt.Sprintf("%s is not an approval role", role)}
	}
	structural, err := r.directory.GetStructuralApprover(ctx, employeeID, role)
	if err != nil {
		return Assignment{}, err
	}
	a := Assignment{Role: role, Structural: structural, Approver: structural}

	if r.delegations == nil {
		return a, nil
	}
	d, ok, err := r.delegations.activeFor(ctx, structural, onDate)
	if err != nil {
		return Assignment{}, fmt.Errorf("look up delegations of %s: %w", structural, err)
	}
	if ok {
		a.Approver = d.DelegateID
		a.Delegation = &d
	}
	return a, nil
}

// Authorize checks that actor is the resolved approver for role. The
// structural approver is not authorized while a delegation is active, and
// nobody decides their own request, even as a delegate.
func (r *Router) Authorize(ctx context.Context, employeeID EmployeeID, role Role, actor EmployeeID, onDate generic.TimePoint) (Assignment, error) {
	if actor == employeeID {
		return Assignment{}, &NotAuthorizedError{Actor: actor, Role: role, Reason: "cannot decide one's own request"}
	}
	a, err := r.resolve(ctx, employeeID, role, onDate)
	if err != nil {
		return Assignment{}, err
	}
	if actor != a.Approver {
		return Assignment{}, &NotAuthorizedError{Actor: actor, Role: role, Expected: a.Approver}
	}
	return a, nil
}
