package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/javanstorm/vermuda/pkg/hostnet"
	"github.com/javanstorm/vermuda/pkg/hypervisor"
)

// MinMemory is the smallest memory size the hypervisor accepts.
const MinMemory Size = 128 << 20

// ValidationError represents a configuration issue.
type ValidationError struct {
	Field   string
	Message string
	Fatal   bool // true = can't proceed, false = will be ignored
}

// ValidateConfig checks configuration values and platform capabilities.
// Returns a list of validation errors/warnings.
func ValidateConfig(cfg *Config, caps hypervisor.Capabilities) []ValidationError {
	var errors []ValidationError
	fatal := func(field, format string, args ...any) {
		errors = append(errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Fatal: true})
	}

	if cfg.CPU.Count < 1 {
		fatal("cpu.count", "must be at least 1, got %d", cfg.CPU.Count)
	}
	if cfg.Memory.Size < MinMemory {
		fatal("memory.size", "must be at least %s, got %s", MinMemory, cfg.Memory.Size)
	}
	if cfg.Root != nil && cfg.Root.Size <= 0 {
		fatal("root.size", "must be positive")
	}
	for i, d := range cfg.Disks {
		if d.Path == "" {
			fatal(fmt.Sprintf("disks[%d].path", i), "must not be empty")
		}
	}
	if cfg.Display != nil && (cfg.Display.Width <= 0 || cfg.Display.Height <= 0) {
		fatal("display", "width and height must be positive")
	}

	if n := cfg.Network; n != nil {
		switch {
		case !caps.Networking:
			// Dropped with a warning below.
		case n.Mode != hostnet.ModeBridged && n.Mode != hostnet.ModeUnixgram:
			fatal("network.mode", "unknown mode %q (want %s or %s)", n.Mode, hostnet.ModeBridged, hostnet.ModeUnixgram)
		case !hostnet.Supported(n.Mode):
			fatal("network.mode", "%s mode is not available on this platform (use %s)", n.Mode, hostnet.DefaultMode())
		case n.Mode == hostnet.ModeBridged:
			if n.Interface == "" {
				fatal("network.interface", "required in %s mode", n.Mode)
			}
		case n.Mode == hostnet.ModeUnixgram:
			if n.Socket == "" {
				fatal("network.socket", "required in %s mode", n.Mode)
			}
		}
		if n.MACAddress != "" {
			if _, err := net.ParseMAC(n.MACAddress); err != nil {
				fatal("network.mac_address", "invalid MAC address %q", n.MACAddress)
			}
		}
		if n.Retry.MaxAttempts < 1 {
			fatal("network.retry.max_attempts", "must be at least 1, got %d", n.Retry.MaxAttempts)
		}
		if n.Retry.Backoff < 0 || n.ReadTimeout < 0 {
			fatal("network", "durations must not be negative")
		}
		if !caps.Networking {
			errors = append(errors, ValidationError{
				Field:   "network",
				Message: "Networking not supported on this platform",
				Fatal:   false, // Will be ignored, not fatal
			})
		}
	}

	if !caps.EFI {
		errors = append(errors, ValidationError{
			Field:   "boot",
			Message: "EFI boot not supported on this platform",
			Fatal:   true,
		})
	}

	return errors
}

// HasFatal reports whether any error is fatal.
func HasFatal(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Fatal {
			return true
		}
	}
	return false
}

// FormatValidationErrors returns human-readable error summary.
func FormatValidationErrors(errors []ValidationError) string {
	if len(errors) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Configuration warnings:\n")
	for _, e := range errors {
		prefix := "Warning"
		if e.Fatal {
			prefix = "Error"
		}
		fmt.Fprintf(&b, "  %s [%s]: %s\n", prefix, e.Field, e.Message)
	}
	return b.String()
}
