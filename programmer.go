package rumbac

// Programmer runs one complete flashing sequence over a transport:
// handshake, optional chip erase, chunked write with verification, boot.
// The sequence runs exactly once per Run call and is not resumable; on the
// first error the run aborts and the caller decides whether to reset the
// device and start over from the handshake.
type Programmer struct {
	transport Transport
	opts      Options
}

// NewProgrammer creates a Programmer flashing over the given transport.
func NewProgrammer(transport Transport, opts Options) *Programmer {
	return &Programmer{transport: transport, opts: opts}
}

// Run flashes image and returns the chip facts learned during the
// handshake. The returned ChipInfo is non-nil whenever the handshake
// completed, even if a later stage failed.
func (p *Programmer) Run(image []byte) (*ChipInfo, error) {
	session, err := Open(p.transport)
	if err != nil {
		return nil, err
	}
	if p.opts.Progress != nil {
		p.opts.Progress(Event{Stage: StageHandshake, Chip: &session.Chip})
	}

	flasher := NewFlasher(session, p.opts)
	if err := flasher.Flash(image); err != nil {
		return &session.Chip, err
	}
	return &session.Chip, nil
}
