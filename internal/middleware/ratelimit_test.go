package middleware

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type dummy struct{ email string }

func (d dummy) GetEmail() string { return d.email }

func TestLimiterStore_AllowAndCleanup(t *testing.T) {
	// allow 5 events immediately then the 6th should be rejected
	s := NewLimiterStore(5, 5, time.Hour)
	defer s.Stop()

	key := "test@example.com"
	for i := 0; i < 5; i++ {
		if !s.Allow(key) {
			t.Fatalf("expected allow at iteration %d", i)
		}
	}
	if s.Allow(key) {
		t.Fatalf("expected limiter to block after burst consumed")
	}

	s.sweep(time.Now().Add(time.Second))
	s.mu.Lock()
	_, ok := s.clients[key]
	s.mu.Unlock()
	if ok {
		t.Fatalf("idle limiter should have been swept")
	}
	if !s.Allow(key) {
		t.Fatalf("a swept key starts with a fresh burst")
	}
	s.Stop()
}

func TestKey(t *testing.T) {
	if got := Key(" Ann@Example.com ", "1.2.3.4:5"); got != "email:ann@example.com" {
		t.Fatalf("got %q", got)
	}
	if got := Key("", "1.2.3.4:5"); got != "addr:1.2.3.4:5" {
		t.Fatalf("got %q", got)
	}
	if got := Key("", ""); got != "unknown" {
		t.Fatalf("got %q", got)
	}
}

func TestRateLimitUnaryInterceptor(t *testing.T) {
	s := NewLimiterStore(1, 1, time.Hour)
	defer s.Stop()
	icpt := RateLimitUnaryInterceptor(s, map[string]bool{"/svc/Login": true})
	ok := func(ctx context.Context, req any) (any, error) { return "ok", nil }
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1}})

	login := &grpc.UnaryServerInfo{FullMethod: "/svc/Login"}
	if _, err := icpt(ctx, dummy{"a@example.com"}, login, ok); err != nil {
		t.Fatalf("first call rejected: %v", err)
	}
	_, err := icpt(ctx, dummy{"A@example.com"}, login, ok)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
	// another account from the same address has its own budget
	if _, err := icpt(ctx, dummy{"b@example.com"}, login, ok); err != nil {
		t.Fatalf("other account rejected: %v", err)
	}
	// methods outside the list are never limited
	other := &grpc.UnaryServerInfo{FullMethod: "/svc/ListUsers"}
	for i := 0; i < 5; i++ {
		if _, err := icpt(ctx, dummy{"a@example.com"}, other, ok); err != nil {
			t.Fatalf("unlimited method rejected: %v", err)
		}
	}
}

func TestRateLimitGin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewLimiterStore(1, 2, time.Hour)
	defer s.Stop()

	r := gin.New()
	r.Use(GinLogger(zerolog.Nop()))
	r.POST("/login", RateLimitGin(s, nil), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codesSeen := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString("{}"))
		r.ServeHTTP(w, req)
		codesSeen = append(codesSeen, w.Code)
	}
	if codesSeen[0] != http.StatusNoContent || codesSeen[1] != http.StatusNoContent || codesSeen[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status codes %v", codesSeen)
	}
}
