package chat

// Message is one inbound chat-service message.
type Message struct {
	// RoomID identifies the channel the message was posted in.
	RoomID string
	// SenderName is the sender's display name, first and last name joined
	// by a single space when both are present.
	SenderName string
	Text       string
}

// Connector is the chat-service connection consumed by the outbound bridge.
type Connector interface {
	// Events returns the serialized inbound message stream.
	Events() <-chan Message
	// SendMessage posts text to a room, fire and forget.
	SendMessage(roomID, text string) error
	Close()
}
