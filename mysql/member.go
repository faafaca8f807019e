package mysql

// MemberState is the group replication state of one instance as reported
// by the instance itself.
type MemberState string

const (
	MemberOnline     MemberState = "ONLINE"
	MemberRecovering MemberState = "RECOVERING"
	MemberOffline    MemberState = "OFFLINE"
	MemberError      MemberState = "ERROR"
	// MemberUnreachable means the instance could not be queried.
	MemberUnreachable MemberState = "UNREACHABLE"
	// MemberMissing means the pod for the instance does not exist.
	MemberMissing MemberState = "MISSING"
)

const (
	RolePrimary   = "PRIMARY"
	RoleSecondary = "SECONDARY"
)

// Member is the observed state of one cluster instance.
type Member struct {
	Index   int
	Pod     string
	Host    string
	State   MemberState
	Role    string
	Version string
}

// Online reports whether the member serves the group.
func (m Member) Online() bool {
	return m.State == MemberOnline
}

// CountOnline returns the number of online members.
func CountOnline(members []Member) int {
	n := 0
	for _, m := range members {
		if m.Online() {
			n++
		}
	}
	return n
}
