// Package kvproto defines the KV and queue protocol types shared by the
// encoding, storage, queue, and watch packages: a fixed internal contract,
// not something callers are expected to extend.
package kvproto

import "time"

// ValueTag identifies the on-disk encoding of a Value.
type ValueTag byte

const (
	TagBlobV8 ValueTag = 1
	TagUint64 ValueTag = 2
	TagBytes  ValueTag = 3
)

// Value is a tagged value variant. Exactly one of the fields is meaningful,
// selected by Tag.
type Value struct {
	Tag   ValueTag
	Blob  []byte // TagBlobV8
	U64   uint64 // TagUint64
	Bytes []byte // TagBytes
}

// Versionstamp is the 10-byte per-commit marker attached to every mutated
// row.
type Versionstamp [10]byte

// KvEntry is a committed key -> value binding read back from storage.
type KvEntry struct {
	Key          []byte
	Value        Value
	Versionstamp Versionstamp
}

// Check is a precondition on a key's current versionstamp.
// Expected == nil means "key must be absent".
type Check struct {
	Key      []byte
	Expected *Versionstamp
}

// MutationKind enumerates the effect kinds a Mutation may carry.
type MutationKind int

const (
	MutationSet MutationKind = iota
	MutationDelete
	MutationSum
	MutationMin
	MutationMax
	MutationSetSuffixVersionstampedKey
)

// Mutation is a single effect within an AtomicWrite.
type Mutation struct {
	Key  []byte
	Kind MutationKind

	// Value is used by Set, Sum, Min, Max, and
	// SetSuffixVersionstampedKey; unused (zero value) for Delete.
	Value Value

	// MinV8/MaxV8/Clamp are decoded wire fields accompanying Sum but not
	// consulted: Sum/Min/Max always wrap on signed overflow rather than
	// clamping.
	MinV8 []byte
	MaxV8 []byte
	Clamp bool

	// ExpireAt is an optional absolute expiry, epoch milliseconds.
	ExpireAt *int64
}

// Enqueue is a queue submission bundled into an AtomicWrite.
type Enqueue struct {
	Payload           []byte
	DeadlineMillis    int64
	KeysIfUndelivered [][]byte
	BackoffSchedule   []int32 // milliseconds, nil if none
}

// AtomicWrite is the all-or-nothing batch unit: preconditions, mutations,
// and enqueues that either all take effect or none do.
type AtomicWrite struct {
	Checks    []Check
	Mutations []Mutation
	Enqueues  []Enqueue
}

// CommitResult is returned for a successfully committed AtomicWrite.
type CommitResult struct {
	Versionstamp Versionstamp
}

// ReadRange describes a half-open lexicographic byte-range scan.
type ReadRange struct {
	Start   []byte
	End     []byte
	Limit   uint32
	Reverse bool
}

// ReadRangeOutput is the decoded result of one ReadRange request.
type ReadRangeOutput struct {
	Entries []KvEntry
}

// Consistency mirrors the caller-facing read-consistency knob; this backend
// always serves strong reads regardless of the requested value.
type Consistency int

const (
	ConsistencyStrong Consistency = iota
	ConsistencyEventual
)

// SnapshotReadOptions wraps the read-consistency option for SnapshotRead.
type SnapshotReadOptions struct {
	Consistency Consistency
}

// WatchKeyOutput is one key's snapshot in a Watch wake.
type WatchKeyOutput struct {
	Entry *KvEntry // nil if the key is absent
}

// QueueMessage is a pending delivery row.
type QueueMessage struct {
	ID                string
	Payload           []byte
	DeadlineMillis    int64
	KeysIfUndelivered [][]byte
	BackoffSchedule   []int32
	RetryCount        int
	CreatedAt         time.Time
}
