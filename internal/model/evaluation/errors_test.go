package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want string
	}{
		{name: "kind only", err: &Error{Kind: KindTimeout}, want: "timeout"},
		{name: "with op", err: NewError(KindSend, "send", nil), want: "send: send_failure"},
		{name: "with code", err: &Error{Kind: KindAuth, Op: "receive", Code: 10105}, want: "receive: auth_failure (code 10105)"},
		{name: "wrapped", err: NewError(KindConnect, "connect", errors.New("refused")), want: "connect: connect_failure: refused"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Fatalf("Error() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	inner := NewError(KindDecode, "decode", errors.New("bad xml"))
	wrapped := fmt.Errorf("evaluate: %w", inner)

	if KindOf(wrapped) != KindDecode {
		t.Fatalf("KindOf = %v", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatal("plain error should be unknown")
	}
	if IsKind(nil, KindUnknown) {
		t.Fatal("nil error has no kind")
	}
	if !IsKind(wrapped, KindDecode) || IsKind(wrapped, KindTimeout) {
		t.Fatal("IsKind mismatch")
	}
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("session: %w", &Error{Kind: KindAuth, Op: "receive", Code: 10105, Err: context.Canceled})

	if !errors.Is(err, &Error{Kind: KindAuth}) {
		t.Fatal("should match by kind")
	}
	if !errors.Is(err, &Error{Kind: KindAuth, Code: 10105}) {
		t.Fatal("should match by kind and code")
	}
	if errors.Is(err, &Error{Kind: KindAuth, Code: 11201}) {
		t.Fatal("different code should not match")
	}
	if errors.Is(err, &Error{Kind: KindTimeout}) {
		t.Fatal("different kind should not match")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatal("wrapped cause should still match")
	}
}

func TestKindString(t *testing.T) {
	seen := make(map[string]Kind)
	for k := KindUnknown; k <= KindPipeline; k++ {
		s := k.String()
		if strings.TrimSpace(s) == "" {
			t.Fatalf("kind %d has empty name", k)
		}
		if prev, ok := seen[s]; ok {
			t.Fatalf("kinds %d and %d share name %q", prev, k, s)
		}
		seen[s] = k
	}
}
