package reservation

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/stay-reservations/internal/domain"
)

type OverlapFinder interface {
	FindOverlapping(ctx context.Context, placeID uuid.UUID, stay domain.StayRange, excludeID *uuid.UUID) ([]domain.Booking, error)
}

// AvailabilityChecker answers whether a place's calendar is free. It only
// reads; the store re-checks atomically when writing.
type AvailabilityChecker struct {
	finder OverlapFinder
}

func NewAvailabilityChecker(finder OverlapFinder) *AvailabilityChecker {
	return &AvailabilityChecker{finder: finder}
}

func (c *AvailabilityChecker) IsAvailable(ctx context.Context, placeID uuid.UUID, checkIn, checkOut time.Time, excludeID *uuid.UUID) (bool, error) {
	stay, err := domain.NewStayRange(checkIn, checkOut)
	if err != nil {
		return false, err
	}
	bookings, err := c.finder.FindOverlapping(ctx, placeID, stay, excludeID)
	if err != nil {
		return false, errors.Wrapf(err, "load bookings for place %s", placeID)
	}
	for _, b := range bookings {
		if excludeID != nil && b.ID == *excludeID {
			continue
		}
		if b.Status.Blocking() && b.Stay.Overlaps(stay) {
			return false, nil
		}
	}
	return true, nil
}
