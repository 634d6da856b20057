package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/PaulBabatuyi/realtime-dm/internal/auth"
	"github.com/PaulBabatuyi/realtime-dm/internal/chat"
	"github.com/PaulBabatuyi/realtime-dm/internal/config"
	"github.com/PaulBabatuyi/realtime-dm/internal/realtime"
	"github.com/PaulBabatuyi/realtime-dm/internal/rpc"
)

func TestMongoBackendSendFlow(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	cfg := config.Defaults()
	cfg.Store.MongoURI = uri
	cfg.Store.Database = "realtime_dm_it_" + time.Now().UTC().Format("20060102150405")

	ctx := context.Background()
	b, err := openBackend(ctx, cfg)
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	defer func() {
		_ = b.mongo.Drop(context.Background())
		_ = b.Close(context.Background())
	}()

	log := zerolog.Nop()
	engine := chat.NewEngine(b.store, b.users, nil, log, chat.Options{})
	srv := newServer(b.users, engine, auth.NewJWTManager("test-secret", time.Hour), realtime.NewHub(log), log)
	defer srv.Close()

	ann, err := srv.register(ctx, &rpc.RegisterRequest{Name: "Ann", Email: "ann@example.com", Password: "testPass123"})
	if err != nil {
		t.Fatalf("register ann: %v", err)
	}
	bob, err := srv.register(ctx, &rpc.RegisterRequest{Name: "Bob", Email: "bob@example.com", Password: "testPass123"})
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}
	if _, err := srv.login(ctx, &rpc.LoginRequest{Email: "ann@example.com", Password: "testPass123"}); err != nil {
		t.Fatalf("login: %v", err)
	}

	for _, body := range []string{"one", "two"} {
		if _, err := engine.SendTo(ctx, ann.User.ID, bob.User.ID, body); err != nil {
			t.Fatalf("SendTo: %v", err)
		}
	}
	sums, err := engine.ListConversations(ctx, bob.User.ID)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(sums) != 1 || sums[0].UnreadCount != 2 || sums[0].LastMessageSeq != 2 {
		t.Fatalf("bob inbox: %+v", sums)
	}
	msgs, err := engine.Conversation(ctx, bob.User.ID, ann.User.ID)
	if err != nil || len(msgs) != 2 || msgs[0].Body != "one" {
		t.Fatalf("history: %v %+v", err, msgs)
	}
}
