package rumbac

import "strings"

// Features is the capability set advertised by the bootloader inside its
// version line, as single letters between "[Arduino:" and "]".
type Features struct {
	ChipErase      bool // X
	WriteBuffer    bool // Y
	ChecksumBuffer bool // Z
	IdentifyChip   bool // I
	Reset          bool // K
}

const (
	featsPrefix = "[Arduino:"
	featsSuffix = "]"
)

// parseFeatures extracts the capability letters from a full version line.
func parseFeatures(version string) (Features, error) {
	start := strings.Index(version, featsPrefix)
	if start < 0 {
		return Features{}, &UnexpectedResponseError{Command: "version", Raw: []byte(version)}
	}
	rest := version[start+len(featsPrefix):]
	end := strings.Index(rest, featsSuffix)
	if end < 0 {
		return Features{}, &UnexpectedResponseError{Command: "version", Raw: []byte(version)}
	}
	var f Features
	for _, b := range []byte(rest[:end]) {
		switch b {
		case 'I':
			f.IdentifyChip = true
		case 'K':
			f.Reset = true
		case 'X':
			f.ChipErase = true
		case 'Y':
			f.WriteBuffer = true
		case 'Z':
			f.ChecksumBuffer = true
		default:
			return Features{}, &UnexpectedResponseError{Command: "version", Raw: []byte(version)}
		}
	}
	return f, nil
}

// FlashGeometry describes the writable flash region of a chip.
type FlashGeometry struct {
	Addr        uint32 // base address of flash
	Pages       uint32
	Size        uint32 // page size in bytes
	Planes      uint32
	LockRegions uint32
	User        uint32 // user area
	Stack       uint32 // stack pointer reset value
}

// Capacity returns the total writable flash size in bytes.
func (g FlashGeometry) Capacity() int {
	return int(g.Pages) * int(g.Size)
}

// ChipInfo holds the facts learned during the handshake. It is produced
// once by Open and read-only afterward.
type ChipInfo struct {
	Version string
	Name    string
	Feats   Features
	Flash   FlashGeometry
}

// chipTable maps exact chip identification strings to flash geometry.
// Entries are registered at startup, never mutated during a run.
var chipTable = map[string]FlashGeometry{
	"nRF52840-QIAA": {
		Addr:        0,
		Pages:       256,
		Size:        4096,
		Planes:      1,
		LockRegions: 0,
		User:        0,
		Stack:       0,
	},
}

// ChipDef is one chip table entry, in the shape used by the CLI's YAML
// chip-definition files.
type ChipDef struct {
	Name  string
	Flash FlashGeometry
}

// RegisterChip adds or replaces a chip table entry. Call it before opening
// any session.
func RegisterChip(def ChipDef) {
	chipTable[def.Name] = def.Flash
	pkgLog.Debugf("registered chip %q: %+v", def.Name, def.Flash)
}

// lookupChip resolves a chip identification string against the table.
func lookupChip(name string) (FlashGeometry, bool) {
	g, ok := chipTable[name]
	return g, ok
}
