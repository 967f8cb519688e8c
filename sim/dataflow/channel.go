package dataflow

import (
	"github.com/gammazero/deque"
)

// Packet is one data item flowing through the graph during a cycle.
type Packet struct {
	Period int
	Value  float64
}

// Direction tells whether a channel is an input or an output slot of its component.
type Direction int

const (
	// Input channels receive packets from transmitters.
	Input Direction = iota
	// Output channels are filled by the owning component's calculation.
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// PacketChannel is an ordered, clearable buffer of packets attached to a component.
// Channels are cleared by their owner at the end of every cycle.
type PacketChannel struct {
	name      string
	direction Direction
	owner     *Component
	packets   deque.Deque[Packet]
}

func newPacketChannel(owner *Component, name string, direction Direction) *PacketChannel {
	return &PacketChannel{name: name, direction: direction, owner: owner}
}

// Name returns the channel name as declared by its component.
func (ch *PacketChannel) Name() string { return ch.name }

// Direction returns whether this is an input or output channel.
func (ch *PacketChannel) Direction() Direction { return ch.direction }

// Owner returns the component the channel belongs to.
func (ch *PacketChannel) Owner() *Component { return ch.owner }

// Add appends a packet.
func (ch *PacketChannel) Add(p Packet) {
	ch.packets.PushBack(p)
}

// AddAll appends packets in order.
func (ch *PacketChannel) AddAll(ps []Packet) {
	for _, p := range ps {
		ch.packets.PushBack(p)
	}
}

// Len returns the number of buffered packets.
func (ch *PacketChannel) Len() int { return ch.packets.Len() }

// At returns the i-th buffered packet.
func (ch *PacketChannel) At(i int) Packet { return ch.packets.At(i) }

// Packets returns a copy of the buffered packets in insertion order.
func (ch *PacketChannel) Packets() []Packet {
	out := make([]Packet, ch.packets.Len())
	for i := range out {
		out[i] = ch.packets.At(i)
	}
	return out
}

// Sum returns the sum of all buffered packet values.
func (ch *PacketChannel) Sum() float64 {
	total := 0.0
	for i := 0; i < ch.packets.Len(); i++ {
		total += ch.packets.At(i).Value
	}
	return total
}

// Clear drops all buffered packets.
func (ch *PacketChannel) Clear() {
	ch.packets.Clear()
}

// String returns "component.channel".
func (ch *PacketChannel) String() string {
	if ch.owner == nil {
		return ch.name
	}
	return ch.owner.Name() + "." + ch.name
}
