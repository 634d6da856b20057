package data

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/PaulBabatuyi/realtime-dm/internal/db"
)

func setupDB(t *testing.T) *db.Client {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	c, err := db.New(ctx, uri, "realtime_dm_data_test")
	if err != nil {
		t.Fatalf("db.New failed: %v", err)
	}

	// ensure clean collections in case previous runs left data
	_ = c.Drop(ctx)
	if err := c.CreateIndexes(ctx); err != nil {
		t.Fatalf("CreateIndexes failed: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Drop(context.Background())
		_ = c.Close(context.Background())
	})
	return c
}

// userStores returns every UserStore implementation available in this run.
func userStores(t *testing.T) map[string]UserStore {
	stores := map[string]UserStore{"memory": NewMemoryStore()}
	if os.Getenv("MONGODB_URI") != "" {
		c := setupDB(t)
		stores["mongo"] = NewUsersStore(c.UsersCollection())
	}
	return stores
}

func TestUsersCreateAndGet(t *testing.T) {
	for name, users := range userStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			email := time.Now().UTC().Format("20060102-150405") + "-Integration@Example.com"

			user, err := users.CreateUser(ctx, "Ada", email, "hashed-password")
			if err != nil {
				t.Fatalf("CreateUser failed: %v", err)
			}
			if user.ID == "" {
				t.Fatalf("expected generated id")
			}

			u2, err := users.GetUserByEmail(ctx, email)
			if err != nil {
				t.Fatalf("GetUserByEmail failed: %v", err)
			}
			if u2.ID != user.ID || u2.Email != user.Email {
				t.Fatalf("GetUserByEmail returned wrong user: %+v", u2)
			}

			got, err := users.GetUserByID(ctx, user.ID)
			if err != nil {
				t.Fatalf("GetUserByID failed: %v", err)
			}
			if got.Name != "Ada" {
				t.Fatalf("GetUserByID returned wrong name: %s", got.Name)
			}

			if _, err := users.CreateUser(ctx, "Ada again", email, "x"); !errors.Is(err, ErrDuplicateEmail) {
				t.Fatalf("expected ErrDuplicateEmail, got %v", err)
			}
			if _, err := users.GetUserByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestUsersNormalizesEmail(t *testing.T) {
	for name, users := range userStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := users.CreateUser(ctx, "Bob", "  BoB@EXample.com ", "h"); err != nil {
				t.Fatalf("CreateUser failed: %v", err)
			}
			u, err := users.GetUserByEmail(ctx, "bob@example.COM")
			if err != nil {
				t.Fatalf("GetUserByEmail failed: %v", err)
			}
			if u.Email != "bob@example.com" {
				t.Fatalf("email stored as %q", u.Email)
			}
		})
	}
}

func TestListUsersExcept(t *testing.T) {
	for name, users := range userStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			carol, _ := users.CreateUser(ctx, "Carol", "carol-list@example.com", "h")
			_, _ = users.CreateUser(ctx, "Alice", "alice-list@example.com", "h")
			_, _ = users.CreateUser(ctx, "Bruno", "bruno-list@example.com", "h")

			list, err := users.ListUsersExcept(ctx, carol.ID)
			if err != nil {
				t.Fatalf("ListUsersExcept failed: %v", err)
			}
			var names []string
			for _, u := range list {
				if u.ID == carol.ID {
					t.Fatalf("caller must be excluded")
				}
				if u.Password != "" {
					t.Fatalf("password hash must not be listed")
				}
				names = append(names, u.Name)
			}
			for i := 1; i < len(names); i++ {
				if names[i-1] > names[i] {
					t.Fatalf("users not ordered by name: %v", names)
				}
			}
		})
	}
}
