// Package chat defines the value types that flow through the chat server.
package chat

import (
	"fmt"

	"github.com/Tyrowin/linechat/internal/uid"
)

// User is a registered participant. Username is the external key, ID the
// internal stable one.
type User struct {
	ID       uid.ID
	Username string
}

func (u User) String() string {
	return fmt.Sprintf("%s:%d", u.Username, u.ID)
}

// Message is one accepted chat line. It is never mutated after creation.
type Message struct {
	ID      uid.ID
	Sender  User
	Content string
}

// NewMessage stamps content from sender with a fresh identifier.
func NewMessage(ids *uid.Generator, sender User, content string) Message {
	return Message{
		ID:      ids.Generate(),
		Sender:  sender,
		Content: content,
	}
}
