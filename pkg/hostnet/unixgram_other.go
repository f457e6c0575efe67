//go:build !darwin && !linux

package hostnet

const unixgramSupported = false

func openUnixgram(Options) (Interface, error) {
	return nil, ErrUnsupported
}
