//go:build !linux

package hostnet

const bridgedSupported = false

func openBridged(Options) (Interface, error) {
	return nil, ErrUnsupported
}
