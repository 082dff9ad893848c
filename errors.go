package rumbac

import (
	"fmt"

	"github.com/pkg/errors"
)

// Every error in this package is fatal for the run. The protocol has no
// re-synchronization primitive, so the only recovery is to reset the device
// and restart from the handshake.

// ErrTimeout is reported when an expected reply does not arrive within the
// transport's read timeout.
var ErrTimeout = errors.New("timeout waiting for bootloader reply")

// ErrEmptyImage is reported when the image to flash contains no bytes. It is
// raised before any transfer command is sent.
var ErrEmptyImage = errors.New("image is empty")

// UnexpectedResponseError means the bootloader replied with something that
// does not match the shape expected for the command that provoked it. Raw
// carries the received bytes for diagnostics.
type UnexpectedResponseError struct {
	Command string
	Raw     []byte
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected reply to %s command: %q", e.Command, e.Raw)
}

// UnsupportedChipError means the chip identification string is not present
// in the chip table.
type UnsupportedChipError struct {
	Name string
}

func (e *UnsupportedChipError) Error() string {
	return fmt.Sprintf("unsupported chip %q", e.Name)
}

// ImageTooLargeError means the image does not fit the chip's flash.
type ImageTooLargeError struct {
	Size     int
	Capacity int
}

func (e *ImageTooLargeError) Error() string {
	return fmt.Sprintf("image of %d bytes exceeds flash capacity of %d bytes", e.Size, e.Capacity)
}

// VerificationError means the checksum reported by the bootloader for a
// just-written chunk differs from the checksum of the bytes sent. The flash
// is left as-is; no rollback is attempted.
type VerificationError struct {
	Addr     uint32
	Expected uint16
	Actual   uint16
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed at %08X: expected checksum %04X, device reports %04X",
		e.Addr, e.Expected, e.Actual)
}
