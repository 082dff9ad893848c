package rumbac

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// wordFill pads the tail of a word write, matching the erased state of the
// flash.
const wordFill = 0xFF

// Options holds flashing options.
type Options struct {
	// Erase requests a full chip erase before writing. It is skipped when
	// the bootloader does not advertise the chip erase capability.
	Erase bool
	// Progress, if set, receives structured progress events.
	Progress ProgressFunc
}

// Flasher writes an image into flash page by page, verifying each chunk
// against the bootloader's checksum before moving on.
type Flasher struct {
	session *Session
	opts    Options
}

// NewFlasher creates a Flasher driving the given session.
func NewFlasher(session *Session, opts Options) *Flasher {
	return &Flasher{session: session, opts: opts}
}

// Flash plans the transfer, optionally erases the chip, writes and verifies
// every chunk in ascending address order, and finally boots the written
// image. The first error aborts the run; a partially written flash is left
// as-is, since only a fresh full rewrite can repair it.
func (f *Flasher) Flash(image []byte) error {
	chip := &f.session.Chip
	chunks, err := planTransfer(chip.Flash, image)
	if err != nil {
		return err
	}

	if f.opts.Erase {
		if err := f.erase(); err != nil {
			return err
		}
	}

	for i, ch := range chunks {
		if err := f.writeChunk(ch); err != nil {
			return errors.Wrapf(err, "writing chunk %d/%d at %08X", i+1, len(chunks), ch.addr)
		}
		if err := f.verifyChunk(ch); err != nil {
			return err
		}
		f.emit(Event{Stage: StageWrite, Chunk: i + 1, Chunks: len(chunks), Addr: ch.addr})
		pkgLog.Debugf("chunk %d/%d written at %08X (%d bytes)", i+1, len(chunks), ch.addr, len(ch.data))
	}

	return f.boot()
}

func (f *Flasher) erase() error {
	chip := &f.session.Chip
	if !chip.Feats.ChipErase {
		pkgLog.Infof("bootloader does not support chip erase, skipping")
		return nil
	}
	f.emit(Event{Stage: StageErase, Addr: chip.Flash.Addr})
	if err := f.session.Erase(); err != nil {
		return err
	}
	pkgLog.Infof("chip erased")
	return nil
}

// writeChunk transfers one chunk, using the buffered write when available
// and falling back to word-by-word writes otherwise.
func (f *Flasher) writeChunk(ch chunk) error {
	if f.session.Chip.Feats.WriteBuffer {
		return f.writeBuffered(ch)
	}
	return f.writeWords(ch)
}

// writeBuffered stages the chunk bytes and commits them with the buffered
// write command. The zero-length write primes the transfer context; the
// bootloader documents it only by example, so it is sent exactly as shown
// there.
func (f *Flasher) writeBuffered(ch chunk) error {
	c := &f.session.codec
	if _, err := c.roundtrip(NewSendBufferCommand(ch.addr, ch.data)); err != nil {
		return err
	}
	if _, err := c.roundtrip(NewWritePrimeCommand(ch.addr)); err != nil {
		return err
	}
	_, err := c.roundtrip(NewWriteBufferCommand(ch.addr, uint32(len(ch.data))))
	return err
}

// writeWords writes the chunk one 32-bit word at a time. Substantially
// slower than the buffered write but semantically equivalent. A short tail
// is padded to a full word with the flash erase value.
func (f *Flasher) writeWords(ch chunk) error {
	c := &f.session.codec
	for off := 0; off < len(ch.data); off += 4 {
		word := [4]byte{wordFill, wordFill, wordFill, wordFill}
		copy(word[:], ch.data[off:])
		value := binary.LittleEndian.Uint32(word[:])
		if _, err := c.roundtrip(NewWriteWordCommand(ch.addr+uint32(off), value)); err != nil {
			return err
		}
	}
	return nil
}

// verifyChunk compares the bootloader's view of the just-written range
// against the bytes sent, via the checksum command when available and by
// reading the range back otherwise.
func (f *Flasher) verifyChunk(ch chunk) error {
	if f.session.Chip.Feats.ChecksumBuffer {
		return f.verifyChecksum(ch)
	}
	return f.verifyReadback(ch)
}

func (f *Flasher) verifyChecksum(ch chunk) error {
	actual, err := f.session.Checksum(ch.addr, uint32(len(ch.data)))
	if err != nil {
		return err
	}
	expected := crc16(ch.data)
	if actual != expected {
		return &VerificationError{Addr: ch.addr, Expected: expected, Actual: actual}
	}
	return nil
}

func (f *Flasher) verifyReadback(ch chunk) error {
	buf := make([]byte, len(ch.data))
	if err := f.session.readRange(ch.addr, buf); err != nil {
		return errors.Wrapf(err, "reading back chunk at %08X", ch.addr)
	}
	for i := range buf {
		if buf[i] != ch.data[i] {
			return &VerificationError{Addr: ch.addr, Expected: crc16(ch.data), Actual: crc16(buf)}
		}
	}
	return nil
}

// boot sends the final boot command. No reply is expected: the bootloader
// disconnects and the written program starts.
func (f *Flasher) boot() error {
	if !f.session.Chip.Feats.Reset {
		pkgLog.Infof("bootloader does not support reset, leaving device in bootloader")
		return nil
	}
	f.emit(Event{Stage: StageBoot})
	if err := f.session.Boot(); err != nil {
		return err
	}
	pkgLog.Infof("booting written image")
	return nil
}

func (f *Flasher) emit(ev Event) {
	if f.opts.Progress != nil {
		f.opts.Progress(ev)
	}
}
