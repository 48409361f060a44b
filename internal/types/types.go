// Package types provides common type definitions for the wallet analytics system.
package types

import (
	"math/big"
	"sort"
)

// TxKind distinguishes the two transaction streams returned by the block explorer.
type TxKind string

const (
	// TxKindExternal represents a transaction directly submitted to the chain by an account.
	TxKindExternal TxKind = "external"
	// TxKindInternal represents a value transfer triggered by contract execution.
	// Internal transfers carry no directly attributable network fee.
	TxKindInternal TxKind = "internal"
)

// priority returns the tie-break rank of a kind when block numbers are equal.
// External transactions always sort before internal ones.
func (k TxKind) priority() int {
	if k == TxKindExternal {
		return 0
	}
	return 1
}

// Transaction is a raw ledger entry parsed strictly at the explorer boundary.
// Value and GasPrice are kept as arbitrary-precision integers in the chain's
// smallest unit; conversion to decimal native units happens exactly once in
// the reconstructor.
type Transaction struct {
	Hash        string
	From        string
	To          string
	BlockNumber uint64
	Value       *big.Int
	GasUsed     uint64
	GasPrice    *big.Int
	Timestamp   int64
	Kind        TxKind
}

// Fee returns the network fee in smallest units (gasUsed * gasPrice).
// Only external transactions carry an attributable fee.
func (t *Transaction) Fee() *big.Int {
	if t.Kind != TxKindExternal || t.GasPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(t.GasUsed), t.GasPrice)
}

// OrderedTransaction is a Transaction plus the total order key used to merge
// the external and internal streams deterministically.
type OrderedTransaction struct {
	Transaction
	// ArrivalIndex is the position of the transaction within its own kind
	// stream, used as the final tie-breaker.
	ArrivalIndex int
}

// Less reports whether o sorts before other in merged ledger order:
// block number ascending, external before internal on a tie, then arrival index.
func (o *OrderedTransaction) Less(other *OrderedTransaction) bool {
	if o.BlockNumber != other.BlockNumber {
		return o.BlockNumber < other.BlockNumber
	}
	if o.Kind != other.Kind {
		return o.Kind.priority() < other.Kind.priority()
	}
	return o.ArrivalIndex < other.ArrivalIndex
}

// SortOrdered sorts transactions into merged ledger order in place.
// The ordering is a policy choice applied on our side, not a guarantee from
// the upstream source, so it must be deterministic across runs.
func SortOrdered(txs []OrderedTransaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Less(&txs[j])
	})
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
