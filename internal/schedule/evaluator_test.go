package schedule

import (
	"testing"
	"time"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
)

func weekdaySchedule() *models.BusinessHoursSchedule {
	// Mon-Fri 09:00-17:00 in Sydney.
	days := make([]models.ScheduleDay, 0, 5)
	for wd := time.Monday; wd <= time.Friday; wd++ {
		days = append(days, models.ScheduleDay{
			Weekday: wd,
			Enabled: true,
			Ranges:  []models.TimeRange{{StartMin: 9 * 60, EndMin: 17 * 60}},
		})
	}
	return &models.BusinessHoursSchedule{
		ID:       1,
		TenantID: "t1",
		Name:     "Business Hours",
		Status:   models.ScheduleActive,
		Timezone: "Australia/Sydney",
		Days:     days,
	}
}

func sydney(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Australia/Sydney")
	if err != nil {
		t.Fatalf("loading timezone: %v", err)
	}
	return loc
}

func TestEvaluateRangeBoundaries(t *testing.T) {
	s := weekdaySchedule()
	loc := sydney(t)

	tests := []struct {
		name string
		at   time.Time
		want Status
	}{
		{"before open", time.Date(2025, 3, 12, 8, 59, 0, 0, loc), StatusClosed},
		{"at open (inclusive)", time.Date(2025, 3, 12, 9, 0, 0, 0, loc), StatusOpen},
		{"mid day", time.Date(2025, 3, 12, 12, 30, 0, 0, loc), StatusOpen},
		{"last minute inside", time.Date(2025, 3, 12, 16, 59, 0, 0, loc), StatusOpen},
		{"at close (exclusive)", time.Date(2025, 3, 12, 17, 0, 0, 0, loc), StatusClosed},
		{"saturday", time.Date(2025, 3, 15, 10, 0, 0, 0, loc), StatusClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Evaluate(s, tt.at)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Status != tt.want {
				t.Errorf("got %s, want %s (reason: %s)", res.Status, tt.want, res.Reason)
			}
			if res.ExceptionApplied {
				t.Errorf("no exception should apply")
			}
		})
	}
}

func TestEvaluateTimezoneConversion(t *testing.T) {
	s := weekdaySchedule()

	// 23:00 UTC Tuesday is 10:00 Wednesday in Sydney (AEDT, UTC+11).
	at := time.Date(2025, 3, 11, 23, 0, 0, 0, time.UTC)
	res, err := Evaluate(s, at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusOpen {
		t.Errorf("expected open in schedule timezone, got %s (%s)", res.Status, res.Reason)
	}
}

func TestEvaluateInactiveSchedule(t *testing.T) {
	s := weekdaySchedule()
	s.Status = models.ScheduleInactive

	res, err := Evaluate(s, time.Date(2025, 3, 12, 12, 0, 0, 0, sydney(t)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusClosed {
		t.Errorf("inactive schedule must evaluate closed, got %s", res.Status)
	}
}

func TestEvaluateClosedException(t *testing.T) {
	s := weekdaySchedule()
	s.Exceptions = []models.ScheduleException{
		{ID: 1, Date: "2025-03-12", Name: "Public Holiday", Kind: models.ExceptionClosed},
	}

	res, err := Evaluate(s, time.Date(2025, 3, 12, 12, 0, 0, 0, sydney(t)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusClosed {
		t.Errorf("closed exception must override the weekly schedule, got %s", res.Status)
	}
	if !res.ExceptionApplied {
		t.Errorf("expected ExceptionApplied")
	}
}

func TestEvaluateSpecialHoursException(t *testing.T) {
	s := weekdaySchedule()
	s.Exceptions = []models.ScheduleException{
		{
			ID:   1,
			Date: "2025-03-12",
			Name: "Half Day",
			Kind: models.ExceptionSpecialHours,
			// 10:00-13:00 only.
			Ranges: []models.TimeRange{{StartMin: 10 * 60, EndMin: 13 * 60}},
		},
	}
	loc := sydney(t)

	tests := []struct {
		name string
		at   time.Time
		want Status
	}{
		// 09:30 is inside normal hours but outside the special hours.
		{"outside special hours", time.Date(2025, 3, 12, 9, 30, 0, 0, loc), StatusClosed},
		{"inside special hours", time.Date(2025, 3, 12, 11, 0, 0, 0, loc), StatusOpen},
		{"at special close", time.Date(2025, 3, 12, 13, 0, 0, 0, loc), StatusClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Evaluate(s, tt.at)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Status != tt.want {
				t.Errorf("got %s, want %s (%s)", res.Status, tt.want, res.Reason)
			}
			if !res.ExceptionApplied {
				t.Errorf("expected ExceptionApplied")
			}
		})
	}

	// The exception only governs its own date; the next day is normal.
	res, err := Evaluate(s, time.Date(2025, 3, 13, 9, 30, 0, 0, loc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusOpen || res.ExceptionApplied {
		t.Errorf("next day should follow the weekly schedule, got %s exception=%v", res.Status, res.ExceptionApplied)
	}
}

func TestEvaluateUnknownTimezone(t *testing.T) {
	s := weekdaySchedule()
	s.Timezone = "Mars/Olympus_Mons"

	if _, err := Evaluate(s, time.Now()); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestMergeRanges(t *testing.T) {
	tests := []struct {
		name   string
		ranges []models.TimeRange
		want   []models.TimeRange
	}{
		{
			name:   "disjoint stay separate",
			ranges: []models.TimeRange{{StartMin: 540, EndMin: 720}, {StartMin: 780, EndMin: 1020}},
			want:   []models.TimeRange{{StartMin: 540, EndMin: 720}, {StartMin: 780, EndMin: 1020}},
		},
		{
			name:   "overlapping merge",
			ranges: []models.TimeRange{{StartMin: 540, EndMin: 800}, {StartMin: 700, EndMin: 1020}},
			want:   []models.TimeRange{{StartMin: 540, EndMin: 1020}},
		},
		{
			name:   "adjacent merge",
			ranges: []models.TimeRange{{StartMin: 540, EndMin: 720}, {StartMin: 720, EndMin: 900}},
			want:   []models.TimeRange{{StartMin: 540, EndMin: 900}},
		},
		{
			name:   "contained collapses",
			ranges: []models.TimeRange{{StartMin: 540, EndMin: 1020}, {StartMin: 600, EndMin: 660}},
			want:   []models.TimeRange{{StartMin: 540, EndMin: 1020}},
		},
		{
			name:   "unsorted input",
			ranges: []models.TimeRange{{StartMin: 780, EndMin: 900}, {StartMin: 540, EndMin: 600}},
			want:   []models.TimeRange{{StartMin: 540, EndMin: 600}, {StartMin: 780, EndMin: 900}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeRanges(tt.ranges)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d ranges, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("range %d: got %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNextTransition(t *testing.T) {
	s := weekdaySchedule()
	loc := sydney(t)

	// Wednesday 12:00, open: next transition is 17:00 close.
	res, err := Evaluate(s, time.Date(2025, 3, 12, 12, 0, 0, 0, loc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextTransition == nil {
		t.Fatal("expected a next transition")
	}
	want := time.Date(2025, 3, 12, 17, 0, 0, 0, loc)
	if !res.NextTransition.Equal(want) {
		t.Errorf("got %s, want %s", res.NextTransition, want)
	}

	// Friday 18:00, closed: next transition is Monday 09:00 open.
	res, err = Evaluate(s, time.Date(2025, 3, 14, 18, 0, 0, 0, loc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextTransition == nil {
		t.Fatal("expected a next transition")
	}
	want = time.Date(2025, 3, 17, 9, 0, 0, 0, loc)
	if !res.NextTransition.Equal(want) {
		t.Errorf("got %s, want %s", res.NextTransition, want)
	}
}
