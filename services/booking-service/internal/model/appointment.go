package model

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal statuses admit no further transition.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Live appointments hold their slot.
func (s Status) Live() bool {
	return s == StatusPending || s == StatusApproved
}

func ParseStatus(raw string) (Status, bool) {
	switch s := Status(raw); s {
	case StatusPending, StatusApproved, StatusRejected, StatusCompleted, StatusCancelled:
		return s, true
	default:
		return "", false
	}
}

type Appointment struct {
	ID          string
	RequesterID string
	ProviderID  string
	SlotID      string
	Topic       string
	Description string
	Status      Status
	CancelledBy string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DecidedAt   *time.Time
}

// Counterpart returns the other participant, or "" when userID is not a participant.
func (a Appointment) Counterpart(userID string) string {
	switch userID {
	case a.RequesterID:
		return a.ProviderID
	case a.ProviderID:
		return a.RequesterID
	default:
		return ""
	}
}

func (a Appointment) Involves(userID string) bool {
	return userID != "" && (a.RequesterID == userID || a.ProviderID == userID)
}
