package dataflow

import (
	"github.com/pkg/errors"
)

// Filter decides whether a packet is copied by a transmitter.
type Filter func(Packet) bool

// TransmitterOption configures a Transmitter at wiring time.
type TransmitterOption func(*Transmitter)

// WithFilter makes the transmitter copy only packets accepted by f.
func WithFilter(f Filter) TransmitterOption {
	return func(t *Transmitter) {
		t.filter = f
	}
}

// Transmitter is a directed edge copying packets from an output channel of one
// component into an input channel of another, exactly once per cycle.
type Transmitter struct {
	source      *PacketChannel
	target      *PacketChannel
	filter      Filter
	transmitted bool
}

// Source returns the output channel the transmitter reads from.
func (t *Transmitter) Source() *PacketChannel { return t.source }

// Target returns the input channel the transmitter writes to.
func (t *Transmitter) Target() *PacketChannel { return t.target }

// Transmitted reports whether the transmitter already fired in the current cycle.
func (t *Transmitter) Transmitted() bool { return t.transmitted }

// Transmit copies the source packets into the target channel and notifies the
// receiving component. The receiver executes synchronously once all its inputs
// have been delivered, so errors from anywhere downstream surface here.
func (t *Transmitter) Transmit() error {
	if t.transmitted {
		return errors.Errorf("transmitter %s -> %s fired twice in one cycle", t.source, t.target)
	}
	for i := 0; i < t.source.Len(); i++ {
		p := t.source.At(i)
		if t.filter == nil || t.filter(p) {
			t.target.Add(p)
		}
	}
	t.transmitted = true
	return t.target.Owner().NotifyTransmitted(t)
}

// Reset clears the transmitted flag for the next cycle.
func (t *Transmitter) Reset() {
	t.transmitted = false
}

func (t *Transmitter) String() string {
	return t.source.String() + " -> " + t.target.String()
}
