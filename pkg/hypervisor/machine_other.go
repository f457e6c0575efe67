//go:build !darwin

package hypervisor

// PlatformCapabilities reports what the builder supports on this platform.
func PlatformCapabilities() Capabilities {
	return Capabilities{}
}

// Build always fails: only macOS provides a host virtualization capability.
func Build(cfg *VMConfig) (Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return nil, ErrUnsupportedPlatform
}
