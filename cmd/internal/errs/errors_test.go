package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	base := errors.New("disk on fire")

	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "typed", err: New("auth.login", ErrAuthorization, "Password Incorrect"), want: ErrAuthorization},
		{name: "wrapped typed", err: fmt.Errorf("ctx: %w", Wrap("db.peek", ErrDatabase, base)), want: ErrDatabase},
		{name: "bare sentinel", err: fmt.Errorf("x: %w", ErrNotFound), want: ErrNotFound},
		{name: "plain", err: base, want: ErrUnknown},
	}

	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Fatalf("%s: KindOf=%v want=%v", tc.name, got, tc.want)
		}
	}
}

func TestWrapKeepsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := Wrap("db.mutate", ErrDatabase, cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if !errors.Is(err, ErrDatabase) {
		t.Fatalf("expected database kind")
	}
	if Wrap("noop", ErrDatabase, nil) != nil {
		t.Fatalf("Wrap(nil) must stay nil")
	}
}

func TestMessage(t *testing.T) {
	t.Parallel()

	if got := Message(New("auth.login", ErrAuthorization, "Password Incorrect")); got != "Password Incorrect" {
		t.Fatalf("Message=%q", got)
	}
	if got := Message(errors.New("secret internals")); got != "unknown" {
		t.Fatalf("plain error leaked: %q", got)
	}
	if got := Message(Wrap("db", ErrDatabase, errors.New("x"))); got != "database" {
		t.Fatalf("Message=%q", got)
	}
}

func TestCodeStable(t *testing.T) {
	t.Parallel()

	if Code(ErrAuthorization) != 8 || Code(ErrUnknown) != 1 {
		t.Fatalf("codes drifted")
	}
	if Code(errors.New("other")) != 1 {
		t.Fatalf("unknown kinds must map to the unknown code")
	}
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	for k := range codes {
		if got := Parse(Name(k)); got != k {
			t.Fatalf("Parse(%q)=%v", Name(k), got)
		}
	}
	if Parse("nonsense") != ErrUnknown {
		t.Fatalf("unknown names must parse to ErrUnknown")
	}
}
