package stream

import "fmt"

// BlockRange is an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// Blocks returns the number of blocks covered.
func (r BlockRange) Blocks() uint64 {
	return r.To - r.From + 1
}

// HistoryWindow is the last depth blocks ending at head, clamped at genesis.
func HistoryWindow(head, depth uint64) (BlockRange, error) {
	if depth == 0 {
		return BlockRange{}, fmt.Errorf("history depth must be greater than zero")
	}
	from := uint64(0)
	if head+1 > depth {
		from = head - depth + 1
	}
	return BlockRange{From: from, To: head}, nil
}

// SplitRange splits [from, to] into consecutive chunks of at most maxRange blocks.
func SplitRange(from, to, maxRange uint64) ([]BlockRange, error) {
	if maxRange == 0 {
		return nil, fmt.Errorf("max block range must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	ranges := make([]BlockRange, 0, (to-from)/maxRange+1)
	for start := from; ; {
		end := to
		if to-start >= maxRange {
			end = start + maxRange - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			return ranges, nil
		}
		start = end + 1
	}
}
