package compaction

import "fmt"

// VerificationResult holds the outcome of a compaction check.
type VerificationResult struct {
	Valid        bool
	ExpectedRows int64
	ActualRows   int64
	Errors       []string
}

// Verifier checks a compacted table against its inputs before it replaces them.
type Verifier struct{}

// NewVerifier creates a new compaction verifier.
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify checks that the compacted row count is the earlier compacted
// count plus the sum of the per-event sources.
func (v *Verifier) Verify(baseRows int64, sourceRows []int64, actualRows int64) *VerificationResult {
	vr := &VerificationResult{Valid: true, ExpectedRows: baseRows, ActualRows: actualRows}

	for i, n := range sourceRows {
		if n == 0 {
			vr.Errors = append(vr.Errors, fmt.Sprintf("source %d is empty", i))
		}
		vr.ExpectedRows += n
	}

	if actualRows != vr.ExpectedRows {
		vr.Errors = append(vr.Errors, fmt.Sprintf(
			"row count mismatch: expected %d (sum of sources), got %d",
			vr.ExpectedRows, actualRows))
	}

	vr.Valid = len(vr.Errors) == 0
	return vr
}
