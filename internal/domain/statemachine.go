package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusCheckedIn, StatusCancelled},
	StatusCheckedIn:  {StatusCheckedOut},
	StatusCheckedOut: nil,
	StatusCancelled:  nil,
}

var allowedRoles = map[Status][]Role{
	StatusConfirmed:  {RoleHost, RoleAdmin},
	StatusCancelled:  {RoleGuest, RoleHost, RoleAdmin},
	StatusCheckedIn:  {RoleHost, RoleAdmin},
	StatusCheckedOut: {RoleGuest, RoleHost, RoleAdmin},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func roleAllowed(to Status, role Role) bool {
	for _, r := range allowedRoles[to] {
		if r == role {
			return true
		}
	}
	return false
}

type TransitionRequest struct {
	To     Status
	Actor  Actor
	Reason string
	Now    time.Time
}

// Transition applies req to b. On error b is left untouched.
func (b *Booking) Transition(req TransitionRequest) error {
	role, ok := req.Actor.RoleOn(b)
	if !ok {
		return Permissionf("user %s is not a party to booking %s", req.Actor.ID, b.ID)
	}
	if !CanTransition(b.Status, req.To) {
		return Validationf("cannot change booking status from %s to %s", b.Status, req.To)
	}
	if !roleAllowed(req.To, role) {
		return Permissionf("%s cannot set booking status to %s", role, req.To)
	}
	reason := strings.TrimSpace(req.Reason)
	now := req.Now.UTC()

	switch req.To {
	case StatusCheckedIn:
		if DateOf(now).Before(b.Stay.CheckIn) {
			return Validationf("check-in is not possible before %s", b.Stay.CheckIn.Format(DateLayout))
		}
	case StatusCancelled:
		if role == RoleHost && reason == "" {
			return Validationf("hosts must give a cancellation reason")
		}
		b.cancel(role, reason, now)
	}

	b.Status = req.To
	b.UpdatedAt = now
	b.StatusHistory = append(b.StatusHistory, StatusEntry{
		Status:  req.To,
		ActorID: req.Actor.ID,
		At:      now,
		Reason:  reason,
	})
	return nil
}

func (b *Booking) cancel(role Role, reason string, now time.Time) {
	pct := RefundPercent(role, b.Stay.HoursUntilCheckIn(now))
	amount := decimal.Zero
	if b.Payment.Status == PaymentPaid {
		amount = RefundAmount(b.Pricing.Total, pct)
		switch {
		case pct == 100:
			b.Payment.Status = PaymentRefunded
		case pct > 0:
			b.Payment.Status = PaymentPartiallyRefunded
		}
	}
	b.Cancellation = &Cancellation{
		ByRole:        role,
		Reason:        reason,
		RefundPercent: pct,
		RefundAmount:  amount,
		At:            now,
	}
}

// RefundPercent is the share of the total returned to the guest. Guests get
// a full refund more than 48 hours out, half between 24 and 48 hours, and
// nothing within a day of check-in. Host and admin cancellations always
// refund in full.
func RefundPercent(role Role, hoursUntilCheckIn float64) int {
	if role != RoleGuest {
		return 100
	}
	switch {
	case hoursUntilCheckIn > 48:
		return 100
	case hoursUntilCheckIn > 24:
		return 50
	}
	return 0
}

func RefundAmount(total decimal.Decimal, pct int) decimal.Decimal {
	return total.Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100)).Round(2)
}

// RefundDue is the amount recorded on a cancelled booking, zero otherwise.
func (b *Booking) RefundDue() decimal.Decimal {
	if b.Cancellation == nil {
		return decimal.Zero
	}
	return b.Cancellation.RefundAmount
}
