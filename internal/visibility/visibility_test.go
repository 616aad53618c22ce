package visibility

import (
	"testing"
	"time"
)

func TestIsVisible(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name      string
		status    string
		publishAt *time.Time
		want      bool
	}{
		{"published", StatusPublished, nil, true},
		{"published ignores future publish_at", StatusPublished, &future, true},
		{"scheduled past", StatusScheduled, &past, true},
		{"scheduled exactly now", StatusScheduled, &now, true},
		{"scheduled future", StatusScheduled, &future, false},
		{"scheduled without timestamp", StatusScheduled, nil, false},
		{"draft", StatusDraft, &past, false},
		{"unknown status", "archived", &past, false},
	}
	for _, tc := range cases {
		if got := IsVisible(tc.status, tc.publishAt, now); got != tc.want {
			t.Fatalf("%s: IsVisible = %v, want %v", tc.name, got, tc.want)
		}
	}
}

// Once a chapter is visible at some instant, it stays visible at every
// later instant.
func TestIsVisibleMonotonicInTime(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	publishAt := start.Add(30 * time.Minute)

	statuses := []struct {
		status    string
		publishAt *time.Time
	}{
		{StatusPublished, nil},
		{StatusScheduled, &publishAt},
	}
	for _, s := range statuses {
		visibleSince := time.Time{}
		for i := 0; i < 48; i++ {
			now := start.Add(time.Duration(i) * 5 * time.Minute)
			visible := IsVisible(s.status, s.publishAt, now)
			if visible && visibleSince.IsZero() {
				visibleSince = now
			}
			if !visibleSince.IsZero() && !visible {
				t.Fatalf("status %s: visibility regressed at %v (visible since %v)", s.status, now, visibleSince)
			}
		}
	}
}
