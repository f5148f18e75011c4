package collaboration

// Role is a member's permission level within a project.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

// roleLevel maps roles to their hierarchy level (higher = more permissions).
var roleLevel = map[Role]int{
	RoleViewer: 25,
	RoleEditor: 50,
	RoleOwner:  100,
}

// Level returns the hierarchy level of the role. Unknown roles rank below
// every valid role.
func (r Role) Level() int {
	if level, ok := roleLevel[r]; ok {
		return level
	}
	return 0
}

// IsAtLeast checks if this role has at least the same level as another role.
func (r Role) IsAtLeast(other Role) bool {
	return r.Level() >= other.Level()
}

// IsValid checks if the role is valid.
func (r Role) IsValid() bool {
	switch r {
	case RoleViewer, RoleEditor, RoleOwner:
		return true
	default:
		return false
	}
}

// IsAssignable checks if the role can be granted through invite or role
// frames. Owner is excluded: ownership is fixed at project creation.
func (r Role) IsAssignable() bool {
	return r == RoleViewer || r == RoleEditor
}

// Decision is the outcome of an authorization check.
type Decision int

const (
	// DecisionAllowed means the caller is a member with sufficient role.
	DecisionAllowed Decision = iota
	// DecisionDenied means the caller is a member but its role is too low.
	DecisionDenied
	// DecisionNotMember means the caller is not on the project's roster.
	DecisionNotMember
)

// Authorize is the single authorization primitive used by every mutating
// frame: it resolves the caller's membership on the project and compares its
// role against the required minimum.
func Authorize(p *Project, userID string, min Role) Decision {
	member := p.MemberByUserID(userID)
	if member == nil {
		return DecisionNotMember
	}
	if !member.Role.IsAtLeast(min) {
		return DecisionDenied
	}
	return DecisionAllowed
}

// HasPermission reports whether userID is a member of p holding at least min.
func HasPermission(p *Project, userID string, min Role) bool {
	return Authorize(p, userID, min) == DecisionAllowed
}
