package servlet

import (
	"context"

	"github.com/clamentos/blackhole/internal/logger"
	"github.com/clamentos/blackhole/internal/protocol"
	"github.com/clamentos/blackhole/pkg/session"
)

// Session serves the SESSION resource.
//
//	LOGIN  body: string user          response: raw session id, long expiry (unix millis)
//	LOGOUT body: empty                ends the session carried in the header
type Session struct {
	store session.Store
}

func NewSession(store session.Store) *Session {
	if store == nil {
		panic("servlet: session store cannot be nil")
	}
	return &Session{store: store}
}

func (s *Session) Resource() protocol.Resource {
	return protocol.ResourceSession
}

func (s *Session) Handle(ctx context.Context, req *protocol.Request) *protocol.Response {
	switch req.Header.Method {
	case protocol.MethodLogin:
		return s.login(ctx, req)
	case protocol.MethodLogout:
		return s.logout(ctx, req)
	default:
		return methodNotAllowed(req)
	}
}

func (s *Session) login(ctx context.Context, req *protocol.Request) *protocol.Response {
	entries, err := protocol.ReadAll(req.Body)
	if err != nil {
		return FailWith(req, err)
	}
	if len(entries) != 1 {
		return protocol.Failf(protocol.StatusBadFormatting, "LOGIN takes one string entry, got %d entries", len(entries))
	}
	user, ok := entries[0].AsString()
	if !ok {
		return protocol.Failf(protocol.StatusBadFormatting, "LOGIN takes a string user, got %s", entries[0].Tag)
	}

	sess, err := s.store.Create(ctx, user)
	if err != nil {
		return FailWith(req, err)
	}

	logger.Info("Session opened for %q from %v", user, req.Remote)
	return protocol.OK(protocol.Raw(sess.ID[:]), protocol.Long(sess.ExpiresAt.UnixMilli()))
}

func (s *Session) logout(ctx context.Context, req *protocol.Request) *protocol.Response {
	if _, err := protocol.ReadAll(req.Body); err != nil {
		return FailWith(req, err)
	}
	if err := s.store.Delete(ctx, req.Header.Session); err != nil {
		return FailWith(req, err)
	}

	logger.Debug("Session closed from %v", req.Remote)
	return protocol.OK()
}
