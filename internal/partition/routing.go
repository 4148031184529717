package partition

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bookinglake/bookinglake/pkg/types"
)

const (
	dailyPrefixLayout = "2006-01-02"
	eventStampLayout  = "20060102T150405Z"

	dailySuffix     = "_data.parquet"
	eventsSuffix    = "_events.parquet"
	compactedFolder = "compacted"
	parquetExt      = ".parquet"
)

// Clock returns the current processing time.
type Clock func() time.Time

// Resolver computes object keys for each keying strategy. Keys depend on
// the processing time (UTC), never on the booking time.
type Resolver struct {
	keyPrefix string
	clock     Clock
	newID     func() string
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithKeyPrefix prepends a folder-like prefix (e.g. "bookings/") to every key.
func WithKeyPrefix(prefix string) ResolverOption {
	return func(r *Resolver) {
		r.keyPrefix = strings.TrimLeft(prefix, "/")
	}
}

// WithClock overrides the processing clock.
func WithClock(clock Clock) ResolverOption {
	return func(r *Resolver) {
		r.clock = clock
	}
}

// WithIDGenerator overrides the per-event unique ID source.
func WithIDGenerator(fn func() string) ResolverOption {
	return func(r *Resolver) {
		r.newID = fn
	}
}

// NewResolver creates a resolver using the wall clock and random UUIDs.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		clock: time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now returns the processing time in UTC.
func (r *Resolver) Now() time.Time {
	return r.clock().UTC()
}

// Daily returns the daily-merge key for the current UTC processing date.
func (r *Resolver) Daily() types.PartitionKey {
	return r.DailyFor(r.Now())
}

// DailyFor returns the daily-merge key for the UTC date of t.
func (r *Resolver) DailyFor(t time.Time) types.PartitionKey {
	day := t.UTC().Format(dailyPrefixLayout)
	return types.PartitionKey{
		Strategy: types.StrategyDaily,
		Prefix:   r.keyPrefix + day,
		Object:   r.keyPrefix + day + dailySuffix,
	}
}

// PerEvent returns a fresh unique key for one event.
func (r *Resolver) PerEvent() types.PartitionKey {
	now := r.Now()
	stamp := now.Format(eventStampLayout)
	return types.PartitionKey{
		Strategy: types.StrategyPerEvent,
		Prefix:   r.EventDayPrefix(now),
		Object:   fmt.Sprintf("%s%s_%s%s", r.keyPrefix, stamp, r.newID(), parquetExt),
	}
}

// EventDayPrefix returns the listing prefix shared by every per-event key
// written on the UTC date of t.
func (r *Resolver) EventDayPrefix(t time.Time) string {
	return r.keyPrefix + t.UTC().Format("20060102") + "T"
}

// Compacted returns the key of the folded per-event file for the UTC date of t.
func (r *Resolver) Compacted(t time.Time) types.PartitionKey {
	day := t.UTC().Format(dailyPrefixLayout)
	return types.PartitionKey{
		Strategy: types.StrategyCompacted,
		Prefix:   r.keyPrefix + path.Join(compactedFolder, day),
		Object:   r.keyPrefix + path.Join(compactedFolder, day+eventsSuffix),
	}
}

// SelectExisting picks the object to merge into from a prefix listing. The
// canonical key wins when present, otherwise the lexicographically first
// match. The boolean is false when nothing matches.
func SelectExisting(key types.PartitionKey, listed []string) (string, bool) {
	first := ""
	for _, obj := range listed {
		if !strings.HasPrefix(obj, key.Prefix) || !strings.HasSuffix(obj, parquetExt) {
			continue
		}
		if obj == key.Object {
			return obj, true
		}
		if first == "" || obj < first {
			first = obj
		}
	}
	return first, first != ""
}
