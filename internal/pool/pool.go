// Package pool provides buffer reuse and allocation-free parsing helpers for
// ingestion.
package pool

import (
	"sync"

	"github.com/logflow/seqmine/internal/model"
)

// DefaultBatchSize is the default number of samples per batch.
const DefaultBatchSize = 1024

// SampleBatchPool manages reusable SampleBatch values.
type SampleBatchPool struct {
	pool     sync.Pool
	batchLen int
}

// NewSampleBatchPool creates a pool of batches holding batchSize samples.
func NewSampleBatchPool(batchSize int) *SampleBatchPool {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	p := &SampleBatchPool{batchLen: batchSize}
	p.pool.New = func() any {
		return &model.SampleBatch{
			Samples: make([]model.Sample, batchSize),
		}
	}
	return p
}

// BatchLen returns the capacity of pooled batches.
func (p *SampleBatchPool) BatchLen() int {
	return p.batchLen
}

// Get retrieves an empty batch from the pool.
func (p *SampleBatchPool) Get() *model.SampleBatch {
	return p.pool.Get().(*model.SampleBatch)
}

// Put returns a batch to the pool.
func (p *SampleBatchPool) Put(b *model.SampleBatch) {
	b.Reset()
	p.pool.Put(b)
}
