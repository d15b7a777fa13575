package leave

import "fmt"

// Role is the closed set of parties that appear in an approval flow.
type Role uint8

const (
	RoleEmployee Role = iota + 1
	RoleLineManager
	RoleHRAdmin
)

// DefaultApprovalRoles returns the fixed step sequence every request goes
// through. Each call returns a fresh slice.
func DefaultApprovalRoles() []Role {
	return []Role{RoleLineManager, RoleHRAdmin}
}

func (r Role) String() string {
	switch r {
	case RoleEmployee:
		return "employee"
	case RoleLineManager:
		return "line_manager"
	case RoleHRAdmin:
		return "hr_admin"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// IsApprover reports whether the role can own an approval step.
func (r Role) IsApprover() bool {
	return r == RoleLineManager || r == RoleHRAdmin
}

func ParseRole(s string) (Role, error) {
	switch s {
	case "employee":
		return RoleEmployee, nil
	case "line_manager":
		return RoleLineManager, nil
	case "hr_admin":
		return RoleHRAdmin, nil
	default:
		return 0, &ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", s)}
	}
}

func (r Role) MarshalText() ([]byte, error) {
	switch r {
	case RoleEmployee, RoleLineManager, RoleHRAdmin:
		return []byte(r.String()), nil
	default:
		return nil, fmt.Errorf("cannot marshal %s", r)
	}
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
