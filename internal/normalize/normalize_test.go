package normalize

import "testing"

func TestEmail(t *testing.T) {
	in := "  John.DOE@Example.COM  "
	want := "john.doe@example.com"
	got := Email(in)
	if got != want {
		t.Fatalf("Normalize.Email(%q) = %q, want %q", in, got, want)
	}
}

func TestBody(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"  hello  ", "hello"},
		{"line one\r\nline two\r\n", "line one\nline two"},
		{" \t\n ", ""},
		{"keep  inner   spaces", "keep  inner   spaces"},
	}
	for _, c := range cases {
		if got := Body(c.in); got != c.want {
			t.Fatalf("Body(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestName(t *testing.T) {
	if got := Name("  Ada   \t Lovelace "); got != "Ada Lovelace" {
		t.Fatalf("Name = %q", got)
	}
}
