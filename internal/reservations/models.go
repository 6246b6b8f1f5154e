package reservations

import "time"

const (
	ActionCreated   = "created"
	ActionCancelled = "cancelled"
)

// StatusAction is the audit action recorded for an admin status change.
func StatusAction(s Status) string { return "status:" + string(s) }

type AuditEntry struct {
	Action    string    `json:"action"`
	By        string    `json:"by"`
	Timestamp time.Time `json:"timestamp"`
}

type Reservation struct {
	ID        string       `json:"id"`
	TableID   string       `json:"table_id"`
	UserID    string       `json:"user_id"`
	Name      string       `json:"name"`
	Phone     string       `json:"phone"`
	Notes     string       `json:"notes,omitempty"`
	StartTime time.Time    `json:"start_time"`
	EndTime   time.Time    `json:"end_time"`
	Status    Status       `json:"status"`
	AuditLog  []AuditEntry `json:"audit_log"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (r *Reservation) Interval() Interval {
	return Interval{Start: r.StartTime, End: r.EndTime}
}

type StatusView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TableID   string    `json:"table_id"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}
