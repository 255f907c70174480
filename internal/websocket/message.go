// Package websocket implements the real-time pub/sub hub that pushes server
// events to connected clients. It uses gorilla/websocket under the hood and
// exposes a topic-based broadcast API consumed by the orchestrator, the
// scheduler and the notification service.
//
// Topic naming convention:
//
//	jobs           - backup job lifecycle events
//	restore        - restore progress events
//	health         - health sweep classifications
//	recovery       - recovery plan executions
//	notifications  - system notification events
package websocket

// Well-known topics. Clients subscribe by name at upgrade time.
const (
	TopicJobs          = "jobs"
	TopicRestore       = "restore"
	TopicHealth        = "health"
	TopicRecovery      = "recovery"
	TopicNotifications = "notifications"
)

// MessageType identifies the kind of event carried by a Message.
// Clients use this field to route the payload to the correct handler.
type MessageType string

const (
	// MsgJobStatus is sent when a backup job transitions between states
	// (pending → running → completed | failed | cancelled).
	MsgJobStatus MessageType = "job.status"

	// MsgRestoreStatus is sent as a restore moves through its phases.
	MsgRestoreStatus MessageType = "restore.status"

	// MsgHealth is sent after every health sweep with the latest
	// classification per monitored service.
	MsgHealth MessageType = "health"

	// MsgRecovery is sent when a recovery plan fires and again when its
	// execution finishes.
	MsgRecovery MessageType = "recovery"

	// MsgNotification is sent when the notification service publishes a
	// system event.
	MsgNotification MessageType = "notification"

	// MsgPing is sent by the hub periodically to keep the connection alive
	// and let the client detect stale connections.
	MsgPing MessageType = "ping"
)

// Message is the envelope for every WebSocket frame sent to clients.
// Clients deserialize this struct and dispatch on Type.
//
// JSON example:
//
//	{"type":"job.status","topic":"jobs","payload":{"status":"running"}}
type Message struct {
	// Type identifies the kind of event so the client can route it correctly.
	Type MessageType `json:"type"`

	// Topic is the pub/sub channel this message was published on.
	Topic string `json:"topic"`

	// Payload carries the event-specific data. The shape varies by Type:
	//   - job.status:     {"event":"completed","job_id":"...","config":"..."}
	//   - restore.status: {"event":"started","restore_point":"..."}
	//   - health:         {"service":"database","status":"healthy"}
	//   - recovery:       {"plan":"...","trigger":"...","success":true}
	//   - notification:   {"type":"...","title":"...","body":"..."}
	//   - ping:           {} (empty)
	Payload any `json:"payload"`
}
