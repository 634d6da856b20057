package chat

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type signupForm struct {
	Name     string `json:"name" validate:"required,max=5"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Internal string `json:"-"`
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		in   signupForm
		want map[string]string
	}{
		{"valid", signupForm{Name: "Ann", Email: "ann@example.com", Password: "secret1"}, nil},
		{"all missing", signupForm{}, map[string]string{
			"name":     "is required",
			"email":    "is required",
			"password": "is required",
		}},
		{"bad values", signupForm{Name: "Annabel", Email: "ann", Password: "123"}, map[string]string{
			"name":     "is too long",
			"email":    "is not a valid email address",
			"password": "must be at least 6 characters",
		}},
		{"length counts characters", signupForm{Name: "Zoë ü", Email: "z@example.com", Password: "éééééé"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.in)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			ve, ok := IsValidation(err)
			if !ok {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if len(ve.Fields) != len(tt.want) {
				t.Fatalf("fields = %v, want %v", ve.Fields, tt.want)
			}
			for field, msg := range tt.want {
				if ve.Fields[field] != msg {
					t.Fatalf("%s = %q, want %q", field, ve.Fields[field], msg)
				}
			}
		})
	}
}

func TestValidateBodyLimit(t *testing.T) {
	e := NewEngine(nil, nil, nil, zerolog.Nop(), Options{MaxBodyLength: 3})

	if got, err := e.ValidateBody("  héé \n"); err != nil || got != "héé" {
		t.Fatalf("ValidateBody = %q, %v", got, err)
	}
	tests := []struct {
		body string
		want string
	}{
		{"", "is required"},
		{" \t ", "is required"},
		{"abcd", "is too long"},
		{strings.Repeat("é", 4), "is too long"},
	}
	for _, tt := range tests {
		_, err := e.ValidateBody(tt.body)
		ve, ok := IsValidation(err)
		if !ok || ve.Fields["body"] != tt.want {
			t.Fatalf("ValidateBody(%q): expected body %q, got %v", tt.body, tt.want, err)
		}
	}
}

func TestValidateRejectsNonStruct(t *testing.T) {
	err := Validate("not a struct")
	if err == nil {
		t.Fatal("expected an error")
	}
	if _, ok := IsValidation(err); ok {
		t.Fatalf("misuse should not look like bad input: %v", err)
	}
}
