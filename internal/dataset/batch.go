package dataset

import (
	"fmt"
	"math/rand"
)

// Batcher hands out shuffled mini-batches of structures, reshuffling at the
// start of every epoch. Randomness comes from the injected source so training
// runs are reproducible.
type Batcher struct {
	structures []*Structure
	batchSize  int
	r          *rand.Rand
	order      []int
	cursor     int
	epoch      int
}

// NewBatcher prepares a batcher over the given structures.
func NewBatcher(structures []*Structure, batchSize int, r *rand.Rand) (*Batcher, error) {
	if len(structures) == 0 {
		return nil, fmt.Errorf("no structures to batch")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if batchSize > len(structures) {
		batchSize = len(structures)
	}
	b := &Batcher{
		structures: structures,
		batchSize:  batchSize,
		r:          r,
		order:      make([]int, len(structures)),
	}
	b.reshuffle()
	return b, nil
}

func (b *Batcher) reshuffle() {
	for i := range b.order {
		b.order[i] = i
	}
	b.r.Shuffle(len(b.order), func(i, j int) {
		b.order[i], b.order[j] = b.order[j], b.order[i]
	})
	b.cursor = 0
}

// Next returns the next mini-batch, starting a new shuffled epoch when the
// current one is exhausted. The returned slice aliases the underlying
// structures; callers must not mutate them.
func (b *Batcher) Next() []*Structure {
	if b.cursor+b.batchSize > len(b.order) {
		b.reshuffle()
		b.epoch++
	}
	batch := make([]*Structure, b.batchSize)
	for i := 0; i < b.batchSize; i++ {
		batch[i] = b.structures[b.order[b.cursor+i]]
	}
	b.cursor += b.batchSize
	return batch
}

// Epoch reports how many full passes have completed.
func (b *Batcher) Epoch() int { return b.epoch }
