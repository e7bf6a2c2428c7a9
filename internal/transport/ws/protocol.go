package ws

// Message types from client to server.
const (
	TypeHello       = "hello"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeCancelRun   = "cancel_run"
)

// Message types from server to client. Run events are forwarded as they
// were published and carry their own event type.
const (
	TypeHelloAck     = "hello_ack"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeRunStatus    = "run_status"
	TypeError        = "ws_error"
)

// Error codes.
const (
	ErrorCodeInvalidMessage = "INVALID_MESSAGE"
	ErrorCodeSubscribeFail  = "SUBSCRIBE_FAILED"
	ErrorCodeCancelFail     = "CANCEL_FAILED"
)

// BaseMessage contains common fields for all control messages.
type BaseMessage struct {
	Type         string `json:"type"`
	Ts           int64  `json:"ts"`
	RequestID    string `json:"request_id,omitempty"`
	SubscriberID string `json:"subscriber_id,omitempty"`
	RunID        string `json:"run_id,omitempty"`
}

// SubscribeMessage binds the connection's subscriber to a topic or
// pattern. Recreate drops whatever the subscriber buffered for it.
type SubscribeMessage struct {
	BaseMessage
	Topic    string `json:"topic"`
	Recreate bool   `json:"recreate,omitempty"`
}

// TopicMessage acknowledges a subscribe or unsubscribe.
type TopicMessage struct {
	BaseMessage
	Topic string `json:"topic"`
}

// RunStatusMessage answers cancel_run.
type RunStatusMessage struct {
	BaseMessage
	Status string `json:"status"`
}

// ErrorMessage reports a failed control request.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}
