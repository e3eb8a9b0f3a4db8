package domain_test

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/stay-reservations/internal/domain"
)

func TestStayRange_Overlaps(t *testing.T) {
	base := mustStay(t, "2025-06-10", "2025-06-15")
	tests := []struct {
		in, out string
		want    bool
	}{
		{"2025-06-05", "2025-06-10", false},
		{"2025-06-15", "2025-06-20", false},
		{"2025-06-05", "2025-06-11", true},
		{"2025-06-14", "2025-06-20", true},
		{"2025-06-11", "2025-06-12", true},
		{"2025-06-01", "2025-06-30", true},
	}
	for _, tt := range tests {
		other := mustStay(t, tt.in, tt.out)
		if got := base.Overlaps(other); got != tt.want {
			t.Errorf("%s vs %s: expected %v, got %v", base, other, tt.want, got)
		}
		if got := other.Overlaps(base); got != tt.want {
			t.Errorf("overlap must be symmetric for %s", other)
		}
	}
}

func TestParseStayRange(t *testing.T) {
	if _, err := domain.ParseStayRange("2025-06-04", "2025-06-04"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error for empty stay, got %v", err)
	}
	if _, err := domain.ParseStayRange("2025-06-04", "2025-06-01"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error for reversed stay, got %v", err)
	}
	if _, err := domain.ParseStayRange("june", "2025-06-01"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error for bad date, got %v", err)
	}
	r, err := domain.ParseStayRange("2025-06-01T15:00:00+02:00", "2025-06-04")
	if err != nil {
		t.Fatal(err)
	}
	if !r.CheckIn.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected check-in normalised to date, got %s", r.CheckIn)
	}
}

func TestStayRange_StartsBefore(t *testing.T) {
	r := mustStay(t, "2025-06-01", "2025-06-04")
	if r.StartsBefore(time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)) {
		t.Error("same-day check-in is not in the past")
	}
	if !r.StartsBefore(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)) {
		t.Error("expected check-in to be in the past")
	}
}
