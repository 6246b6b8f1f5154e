package events

const (
	TopicOrderPlaced              = "order.placed"
	TopicOrderStatusChanged       = "order.status_changed"
	TopicOrderPaid                = "order.paid"
	TopicReservationCreated       = "reservation.created"
	TopicReservationStatusChanged = "reservation.status_changed"
)

// StatusTopics are the topics the status projector follows.
var StatusTopics = []string{
	TopicOrderPlaced,
	TopicOrderStatusChanged,
	TopicOrderPaid,
	TopicReservationCreated,
	TopicReservationStatusChanged,
}

// PartitionKey keeps every event of one aggregate on the same partition so
// consumers see them in order.
func PartitionKey(aggregateID string) []byte { return []byte(aggregateID) }
