package appointment

import (
	"time"
)

// Status of a booked appointment
type Status string

// Appointment statuses
const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// UserAppointment is a booked consultation slot. Appointments granted through
// a subscription reference the granting record via UserSubscriptionID and get
// the subscription's discount applied at booking time.
type UserAppointment struct {
	ID         string `gorm:"primaryKey"`
	UserID     string `gorm:"index"`
	UserEmail  string `gorm:"index"`
	DocumentID string `gorm:"index"`

	UserSubscriptionID string `gorm:"index"`

	ScheduledAt     time.Time
	DurationMinutes int

	Price           float64
	DiscountApplied float64

	Status    Status
	IsDeleted bool `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UserAppointment) TableName() string {
	return "user_appointments"
}
