package vm

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsKind(t *testing.T) {
	cause := errors.New("host said no")
	err := fmt.Errorf("start: %w", newError(KindVirtualization, cause, "start failed"))

	if !errors.Is(err, ErrVirtualization) {
		t.Error("errors.Is(err, ErrVirtualization) = false, want true")
	}
	if errors.Is(err, ErrOperationFailed) {
		t.Error("errors.Is(err, ErrOperationFailed) = true, want false")
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable through Unwrap")
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"kind only", &Error{Kind: KindIO}, "vm: io error"},
		{"with msg", newError(KindOperationFailed, nil, "cannot start from state %s", StateStopped), "vm: operation failed: cannot start from state stopped"},
		{"with cause", newError(KindResourceUnavailable, errors.New("busy"), "open host network"), "vm: resource unavailable: open host network: busy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}
