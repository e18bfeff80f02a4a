// Package queue defines message payloads exchanged over the message broker.
package queue

// Notification types sent to users.
const (
	TypePoolJoined    = "POOL_JOINED"
	TypeMatchReady    = "MATCH_READY"
	TypeChatContinued = "CHAT_CONTINUED"
	TypeChatExpiring  = "CHAT_EXPIRING"
	TypeChatExpired   = "CHAT_EXPIRED"
)

// NotificationEvent is published whenever a user should be told about a
// pool or conversation change.  It carries enough information for a
// downstream delivery worker to render a push message without querying
// the primary database.
type NotificationEvent struct {
	UserID   string `json:"user_id"`
	Type     string `json:"type"`
	EntityID string `json:"entity_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	SentAt   string `json:"sent_at"`
}
