package model

import (
	"testing"
	"time"

	"github.com/nalgeon/be"
)

func TestShouldAutoRun(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	cases := []struct {
		name string
		sub  *Subscription
		want bool
	}{
		{"nil", nil, false},
		{"free plan", &Subscription{Plan: PlanFree}, false},
		{"empty plan", &Subscription{}, false},
		{"active pro", &Subscription{Plan: "pro", Status: "active"}, true},
		{"canceled", &Subscription{Plan: "pro", Status: SubStatusCanceled}, false},
		{"pending cancel, before renewal", &Subscription{Plan: "pro", Status: SubStatusScheduledForCancellation, RenewsAt: &future}, true},
		{"pending cancel, after renewal", &Subscription{Plan: "pro", Status: SubStatusScheduledForCancellation, RenewsAt: &past}, false},
		{"pending cancel, no renewal date", &Subscription{Plan: "pro", Status: SubStatusScheduledForCancellation}, false},
		{"case insensitive", &Subscription{Plan: "PRO", Status: "CANCELED"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			be.Equal(t, tc.sub.ShouldAutoRun(now), tc.want)
		})
	}
}
