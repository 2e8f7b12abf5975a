package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid node", ErrInvalidNode, true},
		{"not initialized", ErrNotInitialized, true},
		{"invalid channel", ErrInvalidChannel, true},
		{"invalid message", ErrInvalidMessage, true},
		{"buffer too small", ErrBufferTooSmall, true},
		{"duplicate instance", ErrDuplicateInstance, true},
		{"unknown abstract", ErrUnknownAbstract, true},
		{"connection lost", ErrConnectionLost, false},
		{"invalid config", ErrInvalidConfig, false},
		{"wrapped invalid node", fmt.Errorf("send: %w", ErrInvalidNode), true},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("test")}, true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsInvalid(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"no connection", ErrNoConnection, true},
		{"invalid node", ErrInvalidNode, false},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil defaults to transient", nil, ErrorTransient},
		{"invalid channel", ErrInvalidChannel, ErrorInvalid},
		{"envelope consumed", ErrEnvelopeConsumed, ErrorFatal},
		{"connection lost", ErrConnectionLost, ErrorTransient},
		{"unknown error", fmt.Errorf("something else"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := Classify(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v", test.expected, result)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	base := ErrInvalidChannel
	wrapped := Wrap(base, "Router", "Send", "channel validation")

	if wrapped == nil {
		t.Fatal("expected non-nil wrapped error")
	}
	if !errors.Is(wrapped, ErrInvalidChannel) {
		t.Error("wrapped error should match base via errors.Is")
	}
	expected := "Router.Send: channel validation failed"
	if !strings.Contains(wrapped.Error(), expected) {
		t.Errorf("expected message to contain %q, got %q", expected, wrapped.Error())
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "C", "M", "a") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if WrapInvalid(nil, "C", "M", "a") != nil {
		t.Error("WrapInvalid(nil) should return nil")
	}
	if WrapTransient(nil, "C", "M", "a") != nil {
		t.Error("WrapTransient(nil) should return nil")
	}
	if WrapFatal(nil, "C", "M", "a") != nil {
		t.Error("WrapFatal(nil) should return nil")
	}
}

func TestWrapInvalid_PreservesClass(t *testing.T) {
	err := WrapInvalid(ErrInvalidNode, "Registry", "Lookup", "handle resolution")

	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatal("expected ClassifiedError in chain")
	}
	if ce.Class != ErrorInvalid {
		t.Errorf("expected ErrorInvalid class, got %v", ce.Class)
	}
	if !errors.Is(err, ErrInvalidNode) {
		t.Error("classification must not break errors.Is chain")
	}
}
