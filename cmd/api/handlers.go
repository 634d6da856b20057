package main

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/realtime-dm/internal/auth"
	"github.com/PaulBabatuyi/realtime-dm/internal/chat"
	"github.com/PaulBabatuyi/realtime-dm/internal/realtime"
	"github.com/PaulBabatuyi/realtime-dm/internal/rpc"
)

// caller returns the claims injected by the auth interceptor.
func caller(ctx context.Context) (*auth.Claims, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return nil, status.Errorf(codes.Unauthenticated, "missing auth claims")
	}
	return claims, nil
}

// Register handles user registration: validates, hashes the password, stores the user and returns a JWT.
func (s *Server) Register(ctx context.Context, req *rpc.RegisterRequest) (*rpc.AuthResponse, error) {
	resp, err := s.register(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	return resp, nil
}

// Login authenticates a user and returns a JWT.
func (s *Server) Login(ctx context.Context, req *rpc.LoginRequest) (*rpc.AuthResponse, error) {
	resp, err := s.login(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	return resp, nil
}

// ListUsers returns everyone except the caller.
func (s *Server) ListUsers(ctx context.Context, _ *rpc.ListUsersRequest) (*rpc.ListUsersResponse, error) {
	claims, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.engine.ListUsers(ctx, claims.UserID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &rpc.ListUsersResponse{Users: users}, nil
}

// SendMessage sends a message to another user, opening the conversation on first contact.
func (s *Server) SendMessage(ctx context.Context, req *rpc.SendMessageRequest) (*rpc.SendMessageResponse, error) {
	claims, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := chat.Validate(req); err != nil {
		return nil, grpcError(err)
	}
	msg, err := s.engine.SendTo(ctx, claims.UserID, req.ReceiverID, req.Body)
	if err != nil {
		return nil, grpcError(err)
	}
	return &rpc.SendMessageResponse{Message: msg}, nil
}

// GetConversation returns the history with another user, oldest first.
func (s *Server) GetConversation(ctx context.Context, req *rpc.GetConversationRequest) (*rpc.GetConversationResponse, error) {
	claims, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	msgs, err := s.engine.Conversation(ctx, claims.UserID, req.UserID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &rpc.GetConversationResponse{Messages: msgs}, nil
}

// ListConversations returns the caller's inbox, most recent first.
func (s *Server) ListConversations(ctx context.Context, _ *rpc.ListConversationsRequest) (*rpc.ListConversationsResponse, error) {
	claims, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	sums, err := s.engine.ListConversations(ctx, claims.UserID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &rpc.ListConversationsResponse{Conversations: sums}, nil
}

// MarkRead clears the caller's unread count for a conversation.
func (s *Server) MarkRead(ctx context.Context, req *rpc.MarkReadRequest) (*rpc.MarkReadResponse, error) {
	claims, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	sum, err := s.engine.MarkRead(ctx, claims.UserID, req.ConversationID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &rpc.MarkReadResponse{Summary: sum}, nil
}

// Typing notifies the receiver that the caller is typing.
func (s *Server) Typing(ctx context.Context, req *rpc.TypingRequest) (*rpc.TypingResponse, error) {
	claims, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := chat.Validate(req); err != nil {
		return nil, grpcError(err)
	}
	if err := s.engine.Typing(ctx, claims.UserID, req.ReceiverID); err != nil {
		return nil, grpcError(err)
	}
	return &rpc.TypingResponse{}, nil
}

// Subscribe joins the requested channels and streams their frames until the
// client goes away, the connection overflows or the server shuts down.
func (s *Server) Subscribe(req *rpc.SubscribeRequest, stream rpc.SubscribeServer) error {
	ctx := stream.Context()
	claims, err := caller(ctx)
	if err != nil {
		return err
	}
	if len(req.Channels) == 0 {
		return status.Error(codes.InvalidArgument, "at least one channel is required")
	}

	conn := realtime.NewStreamConn(userRef(claims), s.connBuffer)
	s.hub.Register(conn)
	defer s.hub.Unregister(conn)
	defer conn.Close()

	for _, ch := range req.Channels {
		if err := s.hub.Subscribe(conn, ch); err != nil {
			return grpcError(err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.ctx.Done():
			return status.Error(codes.Unavailable, "server shutting down")
		case <-conn.Done():
			return status.Error(codes.ResourceExhausted, "subscriber too slow")
		case f := <-conn.Frames():
			if err := stream.Send(&f); err != nil {
				return err
			}
		}
	}
}
