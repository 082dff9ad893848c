package rumbac

import (
	"strconv"

	"github.com/pkg/errors"
)

// Session is an established connection to a bootloader. It owns the
// Transport for its lifetime and holds the facts learned during the
// handshake. Sessions are created fresh per run and discarded afterward.
type Session struct {
	codec codec
	Chip  ChipInfo
}

// Open performs the handshake against the bootloader behind t, in strict
// order: version query, chip identification, switch to normal mode. Each
// step either succeeds or the whole handshake fails; a corrupted handshake
// cannot be recovered without re-establishing the physical connection, so
// there are no retries here.
func Open(t Transport) (*Session, error) {
	s := &Session{codec: codec{t: t}}

	version, err := s.codec.roundtrip(NewVersionCommand())
	if err != nil {
		return nil, err
	}
	feats, err := parseFeatures(version)
	if err != nil {
		return nil, err
	}

	if !feats.IdentifyChip {
		return nil, &UnsupportedChipError{Name: version}
	}
	name, err := s.codec.roundtrip(NewIdentifyCommand())
	if err != nil {
		return nil, err
	}
	geom, ok := lookupChip(name)
	if !ok {
		return nil, &UnsupportedChipError{Name: name}
	}

	// Leave the interactive verbose mode. All binary-oriented commands
	// require it.
	if _, err := s.codec.roundtrip(NewNormalModeCommand()); err != nil {
		return nil, err
	}

	s.Chip = ChipInfo{
		Version: version,
		Name:    name,
		Feats:   feats,
		Flash:   geom,
	}
	pkgLog.Infof("connected to %s (%s)", s.Chip.Name, s.Chip.Version)
	return s, nil
}

// Erase performs a full chip erase. Irreversible and all-or-nothing.
func (s *Session) Erase() error {
	if !s.Chip.Feats.ChipErase {
		return errors.Errorf("chip %s does not support chip erase", s.Chip.Name)
	}
	_, err := s.codec.roundtrip(NewChipEraseCommand(s.Chip.Flash.Addr))
	return err
}

// Checksum asks the bootloader for the checksum of an address range. The
// bootloader reports 32 bits but only the low 16 carry the CRC.
func (s *Session) Checksum(addr, length uint32) (uint16, error) {
	if !s.Chip.Feats.ChecksumBuffer {
		return 0, errors.Errorf("chip %s does not support buffered checksum", s.Chip.Name)
	}
	line, err := s.codec.roundtrip(NewChecksumCommand(addr, length))
	if err != nil {
		return 0, err
	}
	return parseChecksumReply(line)
}

// Boot triggers execution of the flashed program. The bootloader
// disconnects without replying, so no acknowledgement is awaited.
func (s *Session) Boot() error {
	if !s.Chip.Feats.Reset {
		return errors.Errorf("chip %s does not support reset", s.Chip.Name)
	}
	return s.codec.send(NewBootCommand())
}

// parseChecksumReply extracts the checksum from a "Z<8 hex digits>#" reply
// line.
func parseChecksumReply(line string) (uint16, error) {
	if len(line) != 10 || line[0] != 'Z' || line[9] != '#' {
		return 0, &UnexpectedResponseError{Command: "checksum", Raw: []byte(line)}
	}
	v, err := strconv.ParseUint(line[1:9], 16, 32)
	if err != nil {
		return 0, &UnexpectedResponseError{Command: "checksum", Raw: []byte(line)}
	}
	return uint16(v), nil
}
