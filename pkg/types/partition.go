package types

// PartitionKeyStrategy defines how objects are keyed in the store.
type PartitionKeyStrategy string

const (
	// StrategyDaily keys one merged object per UTC processing day (YYYY-MM-DD).
	StrategyDaily PartitionKeyStrategy = "daily"

	// StrategyPerEvent keys one immutable object per event.
	StrategyPerEvent PartitionKeyStrategy = "per_event"

	// StrategyCompacted keys the folded daily object built from per-event objects.
	StrategyCompacted PartitionKeyStrategy = "compacted"
)

// PartitionKey identifies the object a row is written to.
type PartitionKey struct {
	// Strategy is the keying strategy that produced the key
	Strategy PartitionKeyStrategy `json:"strategy"`

	// Prefix is the listing prefix shared by objects of the same partition
	Prefix string `json:"prefix"`

	// Object is the full object key
	Object string `json:"object"`
}
