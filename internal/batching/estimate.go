package batching

import (
	"encoding/json"
	"math"

	"github.com/rzbill/brook/internal/brook"
)

const (
	// BatchOverhead is reserved per batch for transactional framing.
	BatchOverhead = 4096
	// LargePayloadThreshold skips serialization for payloads above it.
	LargePayloadThreshold = 10 * 1024 * 1024

	jsonSafetyFactor       = 1.2
	structuralSafetyFactor = 1.3
	envelopeOverhead       = 512
	timestampOverhead      = 64
)

// EstimateEventSize returns the estimated stored size of e in bytes. It
// serializes the envelope when the payload is small enough and falls back to
// a structural estimate otherwise. It never panics.
func EstimateEventSize(e brook.Event) (n int64) {
	if len(e.Data) > LargePayloadThreshold {
		return structuralEstimate(e)
	}
	defer func() {
		if r := recover(); r != nil {
			n = structuralEstimate(e)
		}
	}()
	b, err := json.Marshal(e)
	if err != nil {
		return structuralEstimate(e)
	}
	return int64(math.Ceil(float64(len(b)) * jsonSafetyFactor))
}

// structuralEstimate sizes e from its field lengths: strings count double for
// UTF-16 safety and the payload is base64-expanded.
func structuralEstimate(e brook.Event) int64 {
	strs := len(e.ID) + len(e.Source) + len(e.EventType) + len(e.DataContentType)
	payload := (int64(len(e.Data))*4 + 2) / 3
	raw := int64(envelopeOverhead) + 2*int64(strs) + payload + timestampOverhead
	return int64(math.Ceil(float64(raw) * structuralSafetyFactor))
}

// EstimateBatchSize returns BatchOverhead plus the estimate of every event.
func EstimateBatchSize(events []brook.Event) int64 {
	total := int64(BatchOverhead)
	for _, e := range events {
		total += EstimateEventSize(e)
	}
	return total
}
