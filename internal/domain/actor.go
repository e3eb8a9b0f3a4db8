package domain

import "github.com/google/uuid"

type Role string

const (
	RoleGuest Role = "guest"
	RoleHost  Role = "host"
	RoleAdmin Role = "admin"
)

// Actor is the authenticated caller. Role is the platform role from the
// token; the guest/host relation to a booking is derived per booking.
type Actor struct {
	ID    uuid.UUID
	Role  Role
	Name  string
	Phone string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// RoleOn resolves how actor relates to b. Admin wins over party membership.
func (a Actor) RoleOn(b *Booking) (Role, bool) {
	switch {
	case a.IsAdmin():
		return RoleAdmin, true
	case a.ID == b.HostID:
		return RoleHost, true
	case a.ID == b.GuestID:
		return RoleGuest, true
	}
	return "", false
}
