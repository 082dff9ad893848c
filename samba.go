// Package rumbac talks to SAM-BA style serial bootloaders, such as the one
// shipped on the Arduino Nano 33 BLE (nRF52840), and flashes binary images
// into the on-board flash of the target chip.
//
// The package contains three main components: the Command codec, the Session
// and the Flasher. Commands model the bootloader's ASCII wire protocol in a
// transport-agnostic way. Session performs the opening handshake and learns
// the chip's capabilities and flash geometry. Flasher plans page-aligned
// chunks, drives the write-then-verify exchanges and finally boots the
// freshly written program. Programmer ties the three together for the common
// "flash this image" case.
//
// Also included is a command line tool, found in the cmd/rumbac directory,
// that serves as both an example on how to use the library and a functional
// host program for flashing images over a serial port.
package rumbac

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Transport is a duplex byte stream to the bootloader. Read must block for
// at most the transport's configured timeout and report an expired timeout
// as io.EOF or a zero-length read, which is how serial ports behave here.
// A Transport is exclusively owned by one Session; nothing else may read or
// write it while the session is alive.
type Transport interface {
	io.Reader
	io.Writer
}

// The bootloader terminates its replies with "\n\r". Some bootloaders
// additionally append a NUL, which the codec skips.
const lineTerminator = "\n\r"

// maxLineLen bounds a single reply line.
const maxLineLen = 256

// Reply shapes. Every command elicits exactly one of these.
const (
	replyNone   = iota // no reply at all, do not wait
	replyLine          // free-form text line
	replyEmpty         // bare line terminator
	replyStatus        // single status byte echoing the opcode
)

// Command is one outbound bootloader request: an ASCII line terminated by
// '#', optionally followed by a raw payload, with a fixed expected reply
// shape.
type Command struct {
	name    string // for diagnostics
	frame   string // encoded line, including the trailing '#'
	payload []byte // raw bytes sent right after the frame
	reply   int
	status  byte // expected status byte for replyStatus
}

// Name returns the human-readable name of the command, for diagnostics.
func (c Command) Name() string { return c.name }

// Frame returns the encoded ASCII line as it goes on the wire.
func (c Command) Frame() string { return c.frame }

// NewVersionCommand requests the bootloader version line.
func NewVersionCommand() Command {
	return Command{name: "version", frame: "V#", reply: replyLine}
}

// NewIdentifyCommand requests the chip identification line.
func NewIdentifyCommand() Command {
	return Command{name: "identify", frame: "I#", reply: replyLine}
}

// NewNormalModeCommand switches the bootloader out of its interactive
// verbose mode. The reply is an empty line.
func NewNormalModeCommand() Command {
	return Command{name: "normal mode", frame: "N#", reply: replyEmpty}
}

// NewSendBufferCommand stages data bytes at the given address. The raw
// payload follows the command line immediately; there is no reply.
func NewSendBufferCommand(addr uint32, data []byte) Command {
	return Command{
		name:    "send buffer",
		frame:   fmt.Sprintf("S%08X,%08X#", addr, len(data)),
		payload: data,
		reply:   replyNone,
	}
}

// NewWritePrimeCommand is the zero-length form of the buffered write. The
// bootloader documents it only by example; the ",0" is preserved verbatim
// rather than widened to eight digits.
func NewWritePrimeCommand(addr uint32) Command {
	return Command{
		name:   "write prime",
		frame:  fmt.Sprintf("Y%08X,0#", addr),
		reply:  replyStatus,
		status: 'Y',
	}
}

// NewWriteBufferCommand commits length staged bytes to flash at addr.
func NewWriteBufferCommand(addr, length uint32) Command {
	return Command{
		name:   "write buffer",
		frame:  fmt.Sprintf("Y%08X,%08X#", addr, length),
		reply:  replyStatus,
		status: 'Y',
	}
}

// NewWriteWordCommand writes a single 32-bit word. No reply.
func NewWriteWordCommand(addr, value uint32) Command {
	return Command{
		name:  "write word",
		frame: fmt.Sprintf("W%08X,%08X#", addr, value),
		reply: replyNone,
	}
}

// NewChecksumCommand asks the bootloader for the checksum of an address
// range. The reply line carries the checksum as eight hex digits.
func NewChecksumCommand(addr, length uint32) Command {
	return Command{
		name:  "checksum",
		frame: fmt.Sprintf("Z%08X,%08X#", addr, length),
		reply: replyLine,
	}
}

// NewChipEraseCommand erases the whole flash starting at addr.
func NewChipEraseCommand(addr uint32) Command {
	return Command{
		name:   "chip erase",
		frame:  fmt.Sprintf("X%08X#", addr),
		reply:  replyStatus,
		status: 'X',
	}
}

// NewReadBufferCommand reads length raw bytes from addr. The reply is raw
// binary, read by the caller, not a terminated line.
func NewReadBufferCommand(addr, length uint32) Command {
	return Command{
		name:  "read buffer",
		frame: fmt.Sprintf("R%08X,%08X#", addr, length),
		reply: replyNone,
	}
}

// NewReadByteCommand reads a single raw byte from addr.
func NewReadByteCommand(addr uint32) Command {
	return Command{
		name:  "read byte",
		frame: fmt.Sprintf("o%08X,4#", addr),
		reply: replyNone,
	}
}

// NewBootCommand boots the written image. The bootloader disconnects
// without replying.
func NewBootCommand() Command {
	return Command{name: "boot", frame: "K#", reply: replyNone}
}

// codec frames commands and replies over a Transport. It owns no state
// beyond the transport handle.
type codec struct {
	t Transport
}

// send writes the encoded command line and any raw payload.
func (c *codec) send(cmd Command) error {
	pkgLog.Debugf("> %s", cmd.frame)
	if _, err := io.WriteString(c.t, cmd.frame); err != nil {
		return errors.Wrapf(err, "sending %s command", cmd.name)
	}
	if len(cmd.payload) > 0 {
		if _, err := c.t.Write(cmd.payload); err != nil {
			return errors.Wrapf(err, "sending %s payload", cmd.name)
		}
	}
	return nil
}

// receive reads and validates the reply for cmd according to its expected
// shape. For replyLine the text of the line is returned; otherwise the
// returned string is empty. Commands with no reply return immediately.
func (c *codec) receive(cmd Command) (string, error) {
	if cmd.reply == replyNone {
		return "", nil
	}
	line, err := c.readLine()
	if err != nil {
		return "", errors.Wrapf(err, "reading %s reply", cmd.name)
	}
	switch cmd.reply {
	case replyLine:
		pkgLog.Debugf("< %s", line)
		return line, nil
	case replyEmpty:
		if line != "" {
			return "", &UnexpectedResponseError{Command: cmd.name, Raw: []byte(line)}
		}
		return "", nil
	case replyStatus:
		if len(line) != 1 || line[0] != cmd.status {
			return "", &UnexpectedResponseError{Command: cmd.name, Raw: []byte(line)}
		}
		pkgLog.Debugf("< %s", line)
		return "", nil
	}
	return "", errors.Errorf("unknown reply shape %d for %s command", cmd.reply, cmd.name)
}

// roundtrip sends cmd and reads its reply.
func (c *codec) roundtrip(cmd Command) (string, error) {
	if err := c.send(cmd); err != nil {
		return "", err
	}
	return c.receive(cmd)
}

// readLine reads bytes until the reply terminator and returns the line
// without it. Leading NULs left over from a previous NUL-terminated reply
// are skipped.
func (c *codec) readLine() (string, error) {
	buf := make([]byte, 0, 64)
	b := make([]byte, 1)
	for {
		n, err := c.t.Read(b)
		if err == io.EOF || (n == 0 && err == nil) {
			return "", ErrTimeout
		}
		if err != nil {
			return "", err
		}
		if b[0] == 0 && len(buf) == 0 {
			continue
		}
		buf = append(buf, b[0])
		if len(buf) >= 2 && string(buf[len(buf)-2:]) == lineTerminator {
			return string(buf[:len(buf)-2]), nil
		}
		if len(buf) > maxLineLen {
			return "", &UnexpectedResponseError{Command: "line", Raw: buf}
		}
	}
}

// readFull fills buf with raw reply bytes, used by the binary read path.
func (c *codec) readFull(buf []byte) error {
	off := 0
	for off < len(buf) {
		n, err := c.t.Read(buf[off:])
		if err == io.EOF || (n == 0 && err == nil) {
			return ErrTimeout
		}
		if err != nil {
			return err
		}
		off += n
	}
	return nil
}
