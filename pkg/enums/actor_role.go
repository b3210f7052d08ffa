package enums

// ActorRole identifies what an authenticated caller may do. Attendees manage
// their own carts and orders; admins additionally settle, refund, and mint
// vouchers.
type ActorRole string

const (
	ActorRoleAttendee ActorRole = "attendee"
	ActorRoleAdmin    ActorRole = "admin"
)

func (r ActorRole) IsValid() bool {
	switch r {
	case ActorRoleAttendee, ActorRoleAdmin:
		return true
	}
	return false
}

func (r ActorRole) String() string {
	return string(r)
}
