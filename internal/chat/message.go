package chat

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Part is one fragment of message content.
type Part struct {
	Text string `json:"text"`
}

// Message is one entry of the conversation log. Messages are append-only
// except for the last model message, whose text grows while a reply is
// streaming in.
type Message struct {
	Role      Role   `json:"role"`
	Parts     []Part `json:"parts"`
	Timestamp string `json:"timestamp"`
}

// Text returns the concatenated part texts.
func (m Message) Text() string {
	if len(m.Parts) == 1 {
		return m.Parts[0].Text
	}
	var out string
	for _, p := range m.Parts {
		out += p.Text
	}
	return out
}

func newMessage(role Role, text string) Message {
	return Message{
		Role:      role,
		Parts:     []Part{{Text: text}},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
