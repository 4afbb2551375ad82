//go:build !linux

package rtc

import (
	"fmt"

	"github.com/pion/mediadevices"
)

// captureOpus has no microphone driver wired on this platform. The manager
// treats the error as a MediaAccessError and degrades to receive-only.
func captureOpus() (mediadevices.EncodedReadCloser, func(), error) {
	return nil, nil, fmt.Errorf("microphone capture not supported on this platform")
}
