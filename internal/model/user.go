package model

import (
	"strings"
	"time"
)

// Settings is the raw, loosely-typed per-user settings blob as stored.
// Values are normalized into a fixed-shape RunConfig at the config boundary;
// nothing past that boundary reads this map directly.
type Settings map[string]any

type User struct {
	ID           int
	Email        string
	PasswordHash string
	Role         string
	Settings     Settings
	CreatedAt    time.Time
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Subscription captures the billing state the scheduler gates on.
type Subscription struct {
	Email    string
	Plan     string
	Status   string
	RenewsAt *time.Time
}

const (
	PlanFree = "free"

	SubStatusCanceled                 = "canceled"
	SubStatusScheduledForCancellation = "scheduled_for_cancellation"
)

// ShouldAutoRun reports whether this subscription is eligible for scheduled
// inbox runs. Free-tier users and canceled subscriptions never auto-run;
// pending cancellations run until their renewal date passes.
func (s *Subscription) ShouldAutoRun(now time.Time) bool {
	if s == nil {
		return false
	}
	plan := strings.ToLower(s.Plan)
	if plan == "" || plan == PlanFree {
		return false
	}
	status := strings.ToLower(s.Status)
	if status == SubStatusCanceled {
		return false
	}
	if status == SubStatusScheduledForCancellation {
		return s.RenewsAt != nil && s.RenewsAt.After(now)
	}
	return true
}
