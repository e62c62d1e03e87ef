package model

import (
	"time"

	"github.com/google/uuid"
)

type UserID string

// NewUserID generates a new unique UserID
func NewUserID() UserID {
	return UserID(uuid.New().String())
}

type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// User is the account resolved from an opaque access key. The account
// system itself (key issuance, billing) lives outside this service; the
// gateway only reads this record.
type User struct {
	ID        UserID
	APIKey    string
	Plan      Plan
	Active    bool
	CreatedAt time.Time
}
