package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/gorilla/websocket"

	"github.com/PaulBabatuyi/realtime-dm/internal/auth"
	"github.com/PaulBabatuyi/realtime-dm/internal/chat"
	"github.com/PaulBabatuyi/realtime-dm/internal/middleware"
	"github.com/PaulBabatuyi/realtime-dm/internal/realtime"
	"github.com/PaulBabatuyi/realtime-dm/internal/rpc"
)

const claimsKey = "claims"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// routes builds the HTTP gateway. limiter guards register and login.
func (s *Server) routes(limiter *middleware.LimiterStore) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.GinLogger(s.log))

	r.GET("/healthz", func(c *gin.Context) {
		respond(c, http.StatusOK, "ok", nil)
	})

	limited := middleware.RateLimitGin(limiter, bodyEmail)
	api := r.Group("/api")
	api.POST("/register", limited, s.httpRegister)
	api.POST("/login", limited, s.httpLogin)

	authed := api.Group("", s.requireAuth())
	authed.GET("/users", s.httpListUsers)
	authed.POST("/messages/send", s.httpSend)
	authed.GET("/messages/conversation/:userId", s.httpConversation)
	authed.GET("/conversations", s.httpListConversations)
	authed.POST("/conversations/:id/read", s.httpMarkRead)
	authed.POST("/messages/typing", s.httpTyping)

	r.GET("/ws", s.requireAuth(), s.httpWebsocket)
	return r
}

func respond(c *gin.Context, code int, message string, data any) {
	body := gin.H{"status": "success", "message": message, "code": code}
	if data != nil {
		body["data"] = data
	}
	c.JSON(code, body)
}

func fail(c *gin.Context, err error) {
	if ve, isValidation := chat.IsValidation(err); isValidation {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"status":  "error",
			"message": "validation failed",
			"code":    http.StatusUnprocessableEntity,
			"errors":  ve.Fields,
		})
		return
	}
	code, msg := httpStatus(err)
	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(code, gin.H{"status": "error", "message": msg, "code": code})
}

func badRequest(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"status":  "error",
		"message": "invalid request body",
		"code":    http.StatusBadRequest,
	})
}

// bodyEmail peeks at the JSON body so login attempts are limited per
// account. The body stays cached for the handler.
func bodyEmail(c *gin.Context) string {
	var req rpc.LoginRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		return ""
	}
	return req.GetEmail()
}

// requireAuth accepts the token from the Authorization header or, for
// browsers opening a websocket, the token query parameter.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = strings.TrimSpace(c.Query("token"))
		}
		if token == "" {
			fail(c, auth.ErrInvalidToken)
			return
		}
		claims, err := s.auth.VerifyToken(token)
		if err != nil {
			fail(c, auth.ErrInvalidToken)
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func claimsOf(c *gin.Context) *auth.Claims {
	return c.MustGet(claimsKey).(*auth.Claims)
}

func (s *Server) httpRegister(c *gin.Context) {
	var req rpc.RegisterRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		badRequest(c)
		return
	}
	resp, err := s.register(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, "registered", resp)
}

func (s *Server) httpLogin(c *gin.Context) {
	var req rpc.LoginRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		badRequest(c)
		return
	}
	resp, err := s.login(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "logged in", resp)
}

func (s *Server) httpListUsers(c *gin.Context) {
	users, err := s.engine.ListUsers(c.Request.Context(), claimsOf(c).UserID)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "users", users)
}

func (s *Server) httpSend(c *gin.Context) {
	var req rpc.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if err := chat.Validate(&req); err != nil {
		fail(c, err)
		return
	}
	msg, err := s.engine.SendTo(c.Request.Context(), claimsOf(c).UserID, req.ReceiverID, req.Body)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, "message sent", msg)
}

func (s *Server) httpConversation(c *gin.Context) {
	msgs, err := s.engine.Conversation(c.Request.Context(), claimsOf(c).UserID, c.Param("userId"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "conversation", msgs)
}

func (s *Server) httpListConversations(c *gin.Context) {
	sums, err := s.engine.ListConversations(c.Request.Context(), claimsOf(c).UserID)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "conversations", sums)
}

func (s *Server) httpMarkRead(c *gin.Context) {
	sum, err := s.engine.MarkRead(c.Request.Context(), claimsOf(c).UserID, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "marked as read", sum)
}

func (s *Server) httpTyping(c *gin.Context) {
	var req rpc.TypingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if err := chat.Validate(&req); err != nil {
		fail(c, err)
		return
	}
	if err := s.engine.Typing(c.Request.Context(), claimsOf(c).UserID, req.ReceiverID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// httpWebsocket upgrades the request and serves the connection until it
// ends or the server shuts down.
func (s *Server) httpWebsocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		_ = c.Error(fmt.Errorf("websocket upgrade: %w", err))
		return
	}
	claims := claimsOf(c)
	conn := realtime.NewConn(ws, userRef(claims), s.connBuffer, s.log.With().Str("user_id", claims.UserID).Logger())
	conn.Serve(s.ctx, s.hub, s.engine.Typing)
}
