package errors

import (
	goerrors "errors"
	"strings"
	"testing"
)

func TestUserFriendlyErrorFormat(t *testing.T) {
	err := UserFriendlyError{
		Message: "Something failed",
		Reason:  "the reason",
		Hint:    "a hint",
		Try:     "a command",
		Err:     goerrors.New("inner"),
	}

	msg := err.Error()
	for _, want := range []string{"Something failed", "Reason: the reason", "Hint: a hint", "Try: a command", "Details: inner"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestUnwrap(t *testing.T) {
	inner := goerrors.New("inner")
	err := WrapSimError(inner, "sims/pcm.yaml")
	if !goerrors.Is(err, inner) {
		t.Error("wrapped error lost its cause")
	}
}

func TestWrapNil(t *testing.T) {
	if WrapSimError(nil, "x") != nil {
		t.Error("WrapSimError(nil) should be nil")
	}
	if WrapSocketError(nil, "vcan0") != nil {
		t.Error("WrapSocketError(nil) should be nil")
	}
	if WrapDoipError(nil) != nil {
		t.Error("WrapDoipError(nil) should be nil")
	}
}

func TestSocketReasons(t *testing.T) {
	tests := []struct {
		err  string
		want string
	}{
		{"bind: no such device", "Interface not found"},
		{"socket: protocol not supported", "kernel CAN protocol module"},
		{"bind: permission denied", "Permission denied"},
		{"listen: address already in use", "already in use"},
		{"something else", "Socket operation failed"},
	}
	for _, tt := range tests {
		got := WrapSocketError(goerrors.New(tt.err), "can0").Error()
		if !strings.Contains(got, tt.want) {
			t.Errorf("reason for %q missing %q:\n%s", tt.err, tt.want, got)
		}
	}
}
