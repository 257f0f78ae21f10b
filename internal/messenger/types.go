package messenger

// MessagingType is the platform's send classification.
type MessagingType string

const (
	// TypeResponse answers a user message within the standard window.
	TypeResponse MessagingType = "RESPONSE"
	// TypeMessageTag is a tagged out-of-window send (scheduled updates).
	TypeMessageTag MessagingType = "MESSAGE_TAG"
)

// Tag justifies an out-of-window send.
type Tag string

const TagNonPromotionalSubscription Tag = "NON_PROMOTIONAL_SUBSCRIPTION"

// ---- Inbound webhook payloads ----

// Event is the top-level webhook body. Object is "page" for page events.
type Event struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Messaging []Messaging `json:"messaging"`
}

// Messaging carries exactly one of Message or Postback.
type Messaging struct {
	Sender   UserRef   `json:"sender"`
	Message  *Message  `json:"message,omitempty"`
	Postback *Postback `json:"postback,omitempty"`
}

type UserRef struct {
	ID string `json:"id"`
}

type Message struct {
	MID  string `json:"mid,omitempty"`
	Text string `json:"text"`
}

type Postback struct {
	Title   string `json:"title,omitempty"`
	Payload string `json:"payload"`
}

// ---- Outbound send payloads ----

type sendMessaging struct {
	MessagingType MessagingType `json:"messaging_type"`
	Recipient     UserRef       `json:"recipient"`
	Message       sendMessage   `json:"message"`
	Tag           Tag           `json:"tag,omitempty"`
}

type sendMessage struct {
	Text       string      `json:"text,omitempty"`
	Attachment *attachment `json:"attachment,omitempty"`
}

type attachment struct {
	Type    string            `json:"type"`
	Payload attachmentPayload `json:"payload"`
}

type attachmentPayload struct {
	URL        string `json:"url"`
	IsReusable bool   `json:"is_reusable"`
}
