// Package queue defines message payloads exchanged over the message broker
// and the consumer that turns them into the audit log.
package queue

// QueueName is the durable queue carrying every marketplace event.
const QueueName = "marketplace.events"

// Routing keys, carried in the AMQP message Type field.
const (
	TypeRoleChanged    = "role.changed"
	TypeListingChanged = "listing.changed"
)

// RoleChangedEvent is published when a user's profile role changes, either
// through the self-service upgrade or an administrative action.
type RoleChangedEvent struct {
	UserID    string `json:"user_id"`
	FromRole  string `json:"from_role"`
	ToRole    string `json:"to_role"`
	Source    string `json:"source"` // "self_service" | "admin"
	ChangedAt string `json:"changed_at"`
}

// ListingChangedEvent is published when a listing is created, edited,
// deleted or moderated.
type ListingChangedEvent struct {
	ListingID uint64 `json:"listing_id"`
	OwnerID   string `json:"owner_id"`
	ActorID   string `json:"actor_id"`
	Kind      string `json:"kind"`
	Action    string `json:"action"` // created | updated | deleted | approved | rejected
	Status    string `json:"status"`
	Title     string `json:"title"`
	ChangedAt string `json:"changed_at"`
}
