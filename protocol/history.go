package protocol

import "github.com/kb9tek/aloft/pool"

// history is the packet-history slab described in spec.md §4.5 for
// transmit streams (framed packets awaiting acknowledgement, kept for
// retransmission) and receive streams (out-of-order arrivals, kept for
// reassembly). It is backed by a fixed pool.Pool slab sized to the
// configured ack interval so no allocation occurs once a protocol is
// constructed.
type history struct {
	slab    *pool.Pool
	lengths []int
	bySeq   map[uint8]int // sequence number -> slab slot index
}

func newHistory(capacity, slotSize int) *history {
	return &history{
		slab:    pool.New(capacity, slotSize),
		lengths: make([]int, capacity),
		bySeq:   make(map[uint8]int, capacity),
	}
}

// push stores (or, for a retransmit of an already-held sequence number,
// overwrites in place) the framed packet bytes for seq. It fails with
// ErrRetryLater once the slab is full and seq is not already held.
func (h *history) push(seq uint8, framed []byte) error {
	if idx, ok := h.bySeq[seq]; ok {
		h.lengths[idx] = copy(h.slab.Slot(idx), framed)
		return nil
	}

	idx, slot, err := h.slab.Acquire()
	if err != nil {
		return ErrRetryLater
	}

	h.lengths[idx] = copy(slot, framed)
	h.bySeq[seq] = idx

	return nil
}

// get returns the framed packet bytes stored for seq, if any.
func (h *history) get(seq uint8) ([]byte, bool) {
	idx, ok := h.bySeq[seq]
	if !ok {
		return nil, false
	}

	return h.slab.Slot(idx)[:h.lengths[idx]], true
}

// remove discards the entry for seq, if present, and frees its slot.
func (h *history) remove(seq uint8) {
	idx, ok := h.bySeq[seq]
	if !ok {
		return
	}

	delete(h.bySeq, seq)
	_ = h.slab.Release(idx)
}

func (h *history) len() int {
	return len(h.bySeq)
}

func (h *history) clear() {
	for seq := range h.bySeq {
		delete(h.bySeq, seq)
	}

	h.slab.Clear()
}

// orderedFrom returns every held sequence number, ordered by ascending
// distance from after (i.e. the order a receiver should drain them in, or
// a transmitter should retransmit them in).
func (h *history) orderedFrom(after uint8) []uint8 {
	var seqs = make([]uint8, 0, len(h.bySeq))

	for seq := range h.bySeq {
		seqs = append(seqs, seq)
	}

	for i := 1; i < len(seqs); i++ {
		for j := i; j > 0 && distance(seqs[j], after) < distance(seqs[j-1], after); j-- {
			seqs[j], seqs[j-1] = seqs[j-1], seqs[j]
		}
	}

	return seqs
}
