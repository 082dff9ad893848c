package rumbac

// Stage identifies the phase a progress event belongs to.
type Stage int

const (
	StageHandshake Stage = iota
	StageErase
	StageWrite
	StageBoot
)

func (s Stage) String() string {
	switch s {
	case StageHandshake:
		return "handshake"
	case StageErase:
		return "erase"
	case StageWrite:
		return "write"
	case StageBoot:
		return "boot"
	}
	return "unknown"
}

// Event is a structured progress notification. The core emits these as
// data; rendering them is the caller's concern.
type Event struct {
	Stage Stage
	// Chip is set on the handshake event.
	Chip *ChipInfo
	// Chunk and Chunks report write progress as chunk n of m.
	Chunk  int
	Chunks int
	// Addr is the flash address the event refers to, where meaningful.
	Addr uint32
}

// ProgressFunc receives progress events during a run. It must not retain
// the Chip pointer past the call.
type ProgressFunc func(Event)
