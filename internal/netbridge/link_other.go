//go:build unix && !darwin && !linux

package netbridge

import (
	"errors"
	"os"
)

var errUnsupported = errors.New("netbridge: datagram socket pairs are not supported on this platform")

// Link is unavailable on this platform.
type Link struct{}

func Open() (*Link, error) { return nil, errUnsupported }

func (l *Link) VMFile() *os.File { return nil }

func (l *Link) readHost([]byte) (int, error) { return 0, errUnsupported }

func (l *Link) writeHost([]byte) (int, error) { return 0, errUnsupported }

func (l *Link) Close() error { return nil }
