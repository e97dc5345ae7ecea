// Package model defines the rows exchanged between ingestion and mining.
package model

// Sample is one time-stamped observation.
// Timestamps are milliseconds since the Unix epoch (UTC).
type Sample struct {
	// Timestamp in milliseconds since Unix epoch.
	Timestamp int64

	// End is the last chronon covered by an interval row. Instant rows leave
	// it zero or equal to Timestamp.
	End int64

	// Value is the numeric observation.
	Value float64

	// Row is the 1-based source row, kept for error reporting.
	Row int

	// Attributes holds auxiliary columns by name.
	Attributes map[string]string
}

// Last returns the last chronon the sample covers.
func (s Sample) Last() int64 {
	if s.End > s.Timestamp {
		return s.End
	}
	return s.Timestamp
}

// Series is an ordered stream of samples sharing one key.
type Series struct {
	Key     string
	Samples []Sample
}

// Len returns the number of samples.
func (s *Series) Len() int {
	return len(s.Samples)
}

// Span returns the first and last covered chronons. ok is false for an empty series.
func (s *Series) Span() (first, last int64, ok bool) {
	if len(s.Samples) == 0 {
		return 0, 0, false
	}
	return s.Samples[0].Timestamp, s.Samples[len(s.Samples)-1].Last(), true
}

// SampleBatch holds a slice of samples for batch processing.
type SampleBatch struct {
	Samples []Sample
	Size    int
}

// Reset clears the batch for reuse.
func (b *SampleBatch) Reset() {
	b.Size = 0
	for i := range b.Samples {
		b.Samples[i] = Sample{}
	}
}
