package protocol

import (
	"github.com/Tyrowin/linechat/internal/chat"
)

// ResponseID tells the client how its request went.
type ResponseID int

const (
	// ResponseInvalid marks a request that could not be understood.
	ResponseInvalid ResponseID = -1
	// ResponseRejected marks a request refused by a domain rule.
	ResponseRejected ResponseID = 0
	// ResponseOK marks success.
	ResponseOK ResponseID = 1
)

// Response is sent back on the connection a request arrived on.
type Response struct {
	ID   ResponseID `json:"response-id"`
	Body any        `json:"body,omitempty"`
}

// Success wraps body in a ResponseOK. body may be nil.
func Success(body any) Response {
	return Response{ID: ResponseOK, Body: body}
}

// Reject builds a ResponseRejected carrying a human readable reason. An
// empty reason sends no body.
func Reject(reason string) Response {
	if reason == "" {
		return Response{ID: ResponseRejected}
	}
	return Response{ID: ResponseRejected, Body: Rejection{Message: reason}}
}

// Invalid builds a ResponseInvalid without body.
func Invalid() Response {
	return Response{ID: ResponseInvalid}
}

// Rejection is the body of a rejected response.
type Rejection struct {
	Message string `json:"message"`
}

// UserBody is the wire form of a user.
type UserBody struct {
	UID      int64  `json:"uid"`
	Username string `json:"uname"`
}

// NewUserBody converts a user to its wire form.
func NewUserBody(u chat.User) UserBody {
	return UserBody{UID: u.ID.Int64(), Username: u.Username}
}

// MessageBody is the wire form of a message without its sender.
type MessageBody struct {
	UID     int64  `json:"uid"`
	Content string `json:"content"`
}

// NewMessageBody converts a message to its wire form.
func NewMessageBody(m chat.Message) MessageBody {
	return MessageBody{UID: m.ID.Int64(), Content: m.Content}
}

// UserEnvelope is {"user":{...}}.
type UserEnvelope struct {
	User UserBody `json:"user"`
}

// MessageEnvelope is {"message":{...}}.
type MessageEnvelope struct {
	Message MessageBody `json:"message"`
}

// UsersEnvelope is {"users":[...]}.
type UsersEnvelope struct {
	Users []UserBody `json:"users"`
}

// SenderEnvelope is the body of a new-message update.
type SenderEnvelope struct {
	Sender  UserBody    `json:"sender"`
	Message MessageBody `json:"message"`
}

// UpdateKey identifies a push update.
type UpdateKey string

// Known update keys.
const (
	NewUser      UpdateKey = "nu"
	NewMessage   UpdateKey = "nm"
	UserDeparted UpdateKey = "ud"
)

// Update is pushed to supplemental connections only.
type Update struct {
	Key  UpdateKey `json:"update-message"`
	Body any       `json:"body"`
}

// NewUserUpdate announces a freshly registered user.
func NewUserUpdate(u chat.User) Update {
	return Update{Key: NewUser, Body: UserEnvelope{User: NewUserBody(u)}}
}

// NewMessageUpdate announces a message together with its sender.
func NewMessageUpdate(m chat.Message) Update {
	return Update{Key: NewMessage, Body: SenderEnvelope{
		Sender:  NewUserBody(m.Sender),
		Message: NewMessageBody(m),
	}}
}

// UserDepartedUpdate announces that a user's primary connection closed.
func UserDepartedUpdate(u chat.User) Update {
	return Update{Key: UserDeparted, Body: UserEnvelope{User: NewUserBody(u)}}
}

// NewUsersEnvelope builds the body of a user list response.
func NewUsersEnvelope(users []chat.User) UsersEnvelope {
	bodies := make([]UserBody, 0, len(users))
	for _, u := range users {
		bodies = append(bodies, NewUserBody(u))
	}
	return UsersEnvelope{Users: bodies}
}
