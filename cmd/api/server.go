package main

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/PaulBabatuyi/realtime-dm/internal/auth"
	"github.com/PaulBabatuyi/realtime-dm/internal/chat"
	"github.com/PaulBabatuyi/realtime-dm/internal/data"
	"github.com/PaulBabatuyi/realtime-dm/internal/normalize"
	"github.com/PaulBabatuyi/realtime-dm/internal/realtime"
	"github.com/PaulBabatuyi/realtime-dm/internal/rpc"
)

// errInvalidCredentials is deliberately vague: it does not reveal whether
// the email exists.
var errInvalidCredentials = errors.New("invalid credentials")

// Server implements the messaging service for both transports and contains
// references to stores, the delivery engine and auth logic.
type Server struct {
	users  data.UserStore
	engine *chat.Engine
	auth   *auth.JWTManager
	hub    *realtime.Hub
	log    zerolog.Logger

	connBuffer int

	// ctx ends every live connection on shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

var _ rpc.MessagingServer = (*Server)(nil)

// newServer returns a ready-to-use Server.
func newServer(users data.UserStore, engine *chat.Engine, authMgr *auth.JWTManager, hub *realtime.Hub, log zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		users:      users,
		engine:     engine,
		auth:       authMgr,
		hub:        hub,
		log:        log,
		connBuffer: realtime.DefaultConnBuffer,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Close ends every live stream and websocket so graceful shutdown can
// complete.
func (s *Server) Close() { s.cancel() }

// register validates the input, stores the user with a bcrypt hash and
// returns a token.
func (s *Server) register(ctx context.Context, req *rpc.RegisterRequest) (*rpc.AuthResponse, error) {
	in := rpc.RegisterRequest{
		Name:     normalize.Name(req.Name),
		Email:    normalize.Email(req.Email),
		Password: req.Password,
	}
	if err := chat.Validate(&in); err != nil {
		return nil, err
	}

	hashed, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user, err := s.users.CreateUser(ctx, in.Name, in.Email, hashed)
	if errors.Is(err, data.ErrDuplicateEmail) {
		return nil, &chat.ValidationError{Fields: map[string]string{"email": "has already been taken"}}
	}
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("user_id", user.ID).Msg("user registered")
	return s.issue(user)
}

// login checks the credentials and returns a fresh token.
func (s *Server) login(ctx context.Context, req *rpc.LoginRequest) (*rpc.AuthResponse, error) {
	in := rpc.LoginRequest{Email: normalize.Email(req.Email), Password: req.Password}
	if err := chat.Validate(&in); err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByEmail(ctx, in.Email)
	if errors.Is(err, data.ErrNotFound) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := auth.CheckPassword(user.Password, in.Password); err != nil {
		return nil, errInvalidCredentials
	}
	return s.issue(user)
}

func (s *Server) issue(user *data.User) (*rpc.AuthResponse, error) {
	token, expiresAt, err := s.auth.GenerateToken(user.ID, user.Email, user.Name)
	if err != nil {
		return nil, err
	}
	out := *user
	out.Password = ""
	return &rpc.AuthResponse{Token: token, ExpiresAt: expiresAt, User: &out}, nil
}

// userRef is the identity of an authenticated caller.
func userRef(c *auth.Claims) data.UserRef {
	return data.UserRef{ID: c.UserID, Name: c.Name, Email: c.Email}
}
