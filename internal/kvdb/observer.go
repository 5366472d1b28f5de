package kvdb

import (
	"slices"
	"time"
)

// TxKind classifies a finished transaction.
type TxKind string

const (
	// KindRead is an explicit read transaction.
	KindRead TxKind = "read"

	// KindWrite is an explicit write transaction.
	KindWrite TxKind = "write"

	// KindAuto is a single write issued outside any explicit transaction.
	KindAuto TxKind = "auto"
)

// TxOutcome is how a transaction ended.
type TxOutcome string

const (
	// OutcomeCommit means the transaction's changes were made durable.
	OutcomeCommit TxOutcome = "commit"

	// OutcomeRollback means the transaction was abandoned and its
	// changes discarded.
	OutcomeRollback TxOutcome = "rollback"
)

// ChangeOp is the last operation applied to a key in a transaction.
type ChangeOp string

const (
	// OpPut records a key that was stored or replaced.
	OpPut ChangeOp = "put"

	// OpDelete records a key that was removed.
	OpDelete ChangeOp = "delete"
)

// Change is one key written by a transaction.
type Change struct {
	Key string   `json:"key" cbor:"key"`
	Op  ChangeOp `json:"op" cbor:"op"`
}

// TxEvent describes a finished transaction.
type TxEvent struct {
	Database     string        `json:"database"`
	ConnectionID string        `json:"connection_id"`
	Owner        Owner         `json:"owner"`
	Kind         TxKind        `json:"kind"`
	Outcome      TxOutcome     `json:"outcome"`
	Changes      []Change      `json:"changes,omitempty"`
	LockWait     time.Duration `json:"lock_wait_ns"`
	Duration     time.Duration `json:"duration_ns"`
	At           time.Time     `json:"at"`
}

// Observer is notified after a transaction ends.
//
// ObserveTransaction runs on the goroutine that ended the transaction,
// after the connection lock is released. Implementations must not block.
type Observer interface {
	ObserveTransaction(TxEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(TxEvent)

// ObserveTransaction calls f(e).
func (f ObserverFunc) ObserveTransaction(e TxEvent) { f(e) }

// changeSet records the last operation per key inside a write transaction.
type changeSet map[string]ChangeOp

func (s changeSet) list() []Change {
	if len(s) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	changes := make([]Change, len(keys))
	for i, k := range keys {
		changes[i] = Change{Key: k, Op: s[k]}
	}
	return changes
}
