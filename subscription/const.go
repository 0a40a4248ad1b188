package subscription

// Status is the custom type to define the current state of a purchase record
type Status string

// Defining the status state machine:
// pending -> active -> {past_due, cancelling} -> cancelled
// active <-> past_due, cancelling -> cancelled at period end.
// A past_due record keeps its is_active flag: access gating treats it as still
// usable until an explicit cancellation arrives.
const (
	StatusPending    Status = "pending"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCancelling Status = "cancelling"
	StatusCancelled  Status = "cancelled"
)
