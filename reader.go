package rumbac

import "io"

// readRange fills buf with flash contents starting at addr. The SAM
// firmware has a bug reading powers of 2 over 32 bytes via USB; in that
// case the first byte is fetched with a single-byte read and the rest with
// a read one byte shorter.
func (s *Session) readRange(addr uint32, buf []byte) error {
	off := uint32(0)
	size := uint32(len(buf))
	if size > 32 && size&(size-1) == 0 {
		if err := s.codec.send(NewReadByteCommand(addr)); err != nil {
			return err
		}
		if err := s.codec.readFull(buf[:1]); err != nil {
			return err
		}
		off = 1
	}
	if err := s.codec.send(NewReadBufferCommand(addr+off, size-off)); err != nil {
		return err
	}
	return s.codec.readFull(buf[off:])
}

// FlashReader reads the chip's entire flash, page by page, as an io.Reader.
type FlashReader struct {
	session *Session
	buf     []byte
	page    uint32
	off     int
}

// NewFlashReader creates a reader over the whole flash of the session's
// chip.
func NewFlashReader(session *Session) *FlashReader {
	buf := make([]byte, session.Chip.Flash.Size)
	return &FlashReader{
		session: session,
		buf:     buf,
		off:     len(buf),
	}
}

func (r *FlashReader) Read(p []byte) (int, error) {
	flash := r.session.Chip.Flash
	if r.off == len(r.buf) {
		if r.page == flash.Pages {
			return 0, io.EOF
		}
		addr := flash.Addr + r.page*flash.Size
		if err := r.session.readRange(addr, r.buf); err != nil {
			return 0, err
		}
		r.page++
		r.off = 0
		pkgLog.Debugf("read page %d/%d at %08X", r.page, flash.Pages, addr)
	}
	n := copy(p, r.buf[r.off:])
	r.off += n
	return n, nil
}
