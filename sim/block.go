package sim

import "fmt"

// Reserved stream offsets: every band [k*ReservedBandSpacing, k*ReservedBandSpacing+ReservedBandWidth)
// for k >= 1 is never assigned to a block.
const (
	ReservedBandSpacing = 100
	ReservedBandWidth   = 10
)

// SimulationBlock is a contiguous slice of the global iteration range plus the
// offset of the random stream its iterations draw from. Immutable.
type SimulationBlock struct {
	IterationOffset int `yaml:"iteration_offset"`
	BlockSize       int `yaml:"block_size"`
	StreamOffset    int `yaml:"stream_offset"`
}

// End returns the first iteration after the block.
func (b SimulationBlock) End() int {
	return b.IterationOffset + b.BlockSize
}

func (b SimulationBlock) String() string {
	return fmt.Sprintf("[%d,%d)@%d", b.IterationOffset, b.End(), b.StreamOffset)
}

// GenerateBlocks partitions totalIterations into ceil(totalIterations/blockSize)
// blocks ordered by offset. All blocks but the last hold exactly blockSize
// iterations; the last holds the remainder, or a full block when blockSize
// divides totalIterations.
func GenerateBlocks(blockSize, totalIterations int) ([]SimulationBlock, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", blockSize)
	}
	if totalIterations <= 0 {
		return nil, fmt.Errorf("total iterations must be positive, got %d", totalIterations)
	}
	count := (totalIterations + blockSize - 1) / blockSize
	blocks := make([]SimulationBlock, count)
	for i := range blocks {
		offset := i * blockSize
		blocks[i] = SimulationBlock{
			IterationOffset: offset,
			BlockSize:       min(blockSize, totalIterations-offset),
			StreamOffset:    StreamOffsetForBlock(i),
		}
	}
	return blocks, nil
}

// StreamOffsetForBlock maps a block index to its stream offset. Offsets grow
// monotonically and skip the reserved bands: indices 0..99 map to 0..99, the
// following 90 indices to 110..199, the next 90 to 210..299, and so on.
func StreamOffsetForBlock(index int) int {
	if index < ReservedBandSpacing {
		return index
	}
	const usable = ReservedBandSpacing - ReservedBandWidth
	rest := index - ReservedBandSpacing
	band := rest/usable + 1
	return band*ReservedBandSpacing + ReservedBandWidth + rest%usable
}

// IsReservedStreamOffset reports whether offset falls in a reserved band.
func IsReservedStreamOffset(offset int) bool {
	return offset >= ReservedBandSpacing && offset%ReservedBandSpacing < ReservedBandWidth
}

// AssignToSlots distributes blocks round-robin: slot i receives the blocks whose
// index is congruent to i modulo slotCount. Slots may be empty.
func AssignToSlots(blocks []SimulationBlock, slotCount int) [][]SimulationBlock {
	if slotCount <= 0 {
		panic("AssignToSlots: slotCount must be >= 1")
	}
	slots := make([][]SimulationBlock, slotCount)
	for i, b := range blocks {
		slots[i%slotCount] = append(slots[i%slotCount], b)
	}
	return slots
}
