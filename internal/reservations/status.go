package reservations

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusReserved  Status = "reserved"
	StatusSeated    Status = "seated"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

var AllStatuses = []Status{
	StatusPending, StatusConfirmed, StatusReserved, StatusSeated,
	StatusCompleted, StatusCancelled, StatusNoShow,
}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Blocking statuses hold the table: they count toward conflict detection.
func (s Status) Blocking() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusReserved
}

// BlockingStatuses is the same set as Blocking, for storage queries.
var BlockingStatuses = []Status{StatusPending, StatusConfirmed, StatusReserved}

func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusReserved || to == StatusCancelled
	case StatusReserved:
		return to == StatusSeated || to == StatusCancelled || to == StatusNoShow
	case StatusSeated:
		return to == StatusCompleted || to == StatusCancelled
	default:
		return false
	}
}
