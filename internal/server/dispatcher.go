package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Tyrowin/linechat/internal/chat"
	"github.com/Tyrowin/linechat/internal/protocol"
	"github.com/Tyrowin/linechat/internal/registry"
)

type requestHandler func(s *Server, c *Conn, req protocol.Request)

var requestHandlers = map[protocol.RequestKind]requestHandler{
	protocol.RegisterUser:        handleRegisterUser,
	protocol.SetUpdateConnection: handleSetUpdateConnection,
	protocol.SendMessage:         handleSendMessage,
	protocol.UserList:            handleUserList,
	protocol.Ping:                handlePing,
}

// rateLimitReason is sent back for requests over budget.
const rateLimitReason = "rate limit exceeded"

// dispatch parses one line and runs its handler. Lines that are not valid
// requests are logged and dropped without a response. Every line spends a
// token; a valid request over budget is rejected.
func (s *Server) dispatch(c *Conn, line string) {
	allowed, retryAfter := c.limiter.take()

	req, err := protocol.ParseRequest(line)
	if err != nil {
		if allowed {
			c.log().Warn("dropping line", "error", err)
		} else {
			c.log().Debug("dropping line over rate limit", "error", err)
		}
		return
	}

	// Supplemental connections only receive updates; ping keeps them alive.
	if c.Role() == RoleSupplemental && req.Kind != protocol.Ping {
		c.log().Debug("ignoring request on supplemental connection", "request", req.Kind)
		return
	}

	if !allowed {
		c.log().Warn("rate limit exceeded", "request", req.Kind, "retry_after", retryAfter)
		s.reply(c, protocol.Reject(rateLimitReason))
		return
	}

	handler, ok := requestHandlers[req.Kind]
	if !ok {
		c.log().Warn("no handler for request", "request", req.Kind)
		return
	}
	c.log().Debug("handling request", "request", req.Kind)
	handler(s, c, req)
}

func (s *Server) reply(c *Conn, resp protocol.Response) {
	if err := c.Send(resp); err != nil {
		c.log().Debug("response not delivered", "response", resp.ID, "error", err)
	}
}

func handleRegisterUser(s *Server, c *Conn, req protocol.Request) {
	var params protocol.RegisterParams
	if err := req.Bind(&params); err != nil {
		s.reply(c, protocol.Invalid())
		return
	}
	if current, ok := c.User(); ok {
		s.reply(c, protocol.Reject(fmt.Sprintf("already registered as %s", current.Username)))
		return
	}

	user, err := s.users.Register(params.Username)
	switch {
	case errors.Is(err, registry.ErrAlreadyExists):
		s.reply(c, protocol.Reject(fmt.Sprintf("%s is already taken", params.Username)))
		return
	case errors.Is(err, registry.ErrEmptyUsername):
		s.reply(c, protocol.Reject("username cannot be empty"))
		return
	case err != nil:
		c.log().Error("register user", "error", err)
		s.reply(c, protocol.Invalid())
		return
	}

	if err := c.bindPrimary(user); err != nil {
		// The connection closed or was bound meanwhile; give the name back.
		s.users.Remove(user.Username)
		s.reply(c, protocol.Reject(err.Error()))
		return
	}

	c.log().Info("user registered", "uid", user.ID.String())
	s.reply(c, protocol.Success(protocol.UserEnvelope{User: protocol.NewUserBody(user)}))
	s.hub.BroadcastExcluding(&user, protocol.NewUserUpdate(user))
}

func handleSetUpdateConnection(s *Server, c *Conn, req protocol.Request) {
	var params protocol.BindParams
	if err := req.Bind(&params); err != nil {
		s.reply(c, protocol.Invalid())
		return
	}
	if c.Role() == RolePrimary {
		s.reply(c, protocol.Reject("primary connection cannot receive updates"))
		return
	}

	user, ok := s.users.Lookup(params.MainUser)
	if !ok {
		s.reply(c, protocol.Reject(""))
		return
	}
	if err := c.bindSupplemental(user); err != nil {
		s.reply(c, protocol.Reject(""))
		return
	}

	c.log().Info("update connection bound")
	s.reply(c, protocol.Success(nil))
}

func handleSendMessage(s *Server, c *Conn, req protocol.Request) {
	var params protocol.SendParams
	if err := req.Bind(&params); err != nil {
		s.reply(c, protocol.Invalid())
		return
	}

	sender, ok := c.User()
	if !ok || c.Role() != RolePrimary {
		s.reply(c, protocol.Reject("register before sending messages"))
		return
	}
	if strings.TrimSpace(params.Message) == "" {
		s.reply(c, protocol.Reject("message cannot be empty"))
		return
	}

	msg := chat.NewMessage(s.ids, sender, params.Message)
	s.reply(c, protocol.Success(protocol.MessageEnvelope{Message: protocol.NewMessageBody(msg)}))
	s.hub.BroadcastExcluding(&sender, protocol.NewMessageUpdate(msg))
}

func handleUserList(s *Server, c *Conn, _ protocol.Request) {
	s.reply(c, protocol.Success(protocol.NewUsersEnvelope(s.users.Users())))
}

func handlePing(s *Server, c *Conn, _ protocol.Request) {
	s.reply(c, protocol.Success(s.now().UnixMilli()))
}
