package outbox

// EventAppointmentCancelled is published when a customer cancels; the
// mailer consumes it to send the cancellation notice.
const EventAppointmentCancelled = "appointment.cancelled.v1"

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
