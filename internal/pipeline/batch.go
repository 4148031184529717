package pipeline

import (
	"context"
	"fmt"

	apperrors "github.com/bookinglake/bookinglake/internal/errors"
)

// BatchPolicy decides what happens to the rest of a batch after a failure.
type BatchPolicy string

const (
	// BestEffort processes every item and reports each failure.
	BestEffort BatchPolicy = "best_effort"
	// FailFast stops at the first failure; later items are left unprocessed.
	FailFast BatchPolicy = "fail_fast"
)

// ParseBatchPolicy parses a policy name. Empty means BestEffort.
func ParseBatchPolicy(s string) (BatchPolicy, error) {
	switch BatchPolicy(s) {
	case "", BestEffort:
		return BestEffort, nil
	case FailFast:
		return FailFast, nil
	default:
		return "", fmt.Errorf("unknown batch policy %q (want %s or %s)", s, BestEffort, FailFast)
	}
}

// Item is one message of a batch.
type Item struct {
	ID   string
	Body []byte
}

// ItemResult is the outcome of one item.
type ItemResult struct {
	Index   int
	ID      string
	Result  *Result
	Err     error
	Skipped bool
}

// OK reports whether the item was written.
func (r ItemResult) OK() bool {
	return r.Err == nil && !r.Skipped
}

// Retryable reports whether the item should be redelivered: it was skipped,
// or it failed on infrastructure rather than on its own content.
func (r ItemResult) Retryable() bool {
	if r.Skipped {
		return true
	}
	return r.Err != nil && !apperrors.IsClientError(r.Err)
}

// BatchReport summarises a processed batch.
type BatchReport struct {
	Items     []ItemResult
	Succeeded int
	Failed    int
	Skipped   int
}

// Failures returns every item that was not written.
func (b *BatchReport) Failures() []ItemResult {
	var out []ItemResult
	for _, it := range b.Items {
		if !it.OK() {
			out = append(out, it)
		}
	}
	return out
}

// ProcessBatch runs items through proc sequentially in order.
func ProcessBatch(ctx context.Context, proc Processor, items []Item, policy BatchPolicy) *BatchReport {
	report := &BatchReport{Items: make([]ItemResult, len(items))}

	stopped := false
	for i, item := range items {
		res := ItemResult{Index: i, ID: item.ID}

		if stopped {
			res.Skipped = true
			report.Skipped++
			report.Items[i] = res
			continue
		}

		if err := ctx.Err(); err != nil {
			res.Skipped = true
			report.Skipped++
			report.Items[i] = res
			stopped = true
			continue
		}

		res.Result, res.Err = proc.Process(ctx, item.Body)
		if res.Err != nil {
			report.Failed++
			if policy == FailFast {
				stopped = true
			}
		} else {
			report.Succeeded++
		}
		report.Items[i] = res
	}

	return report
}
