package savecontainer

import (
	"github.com/google/uuid"
)

// Metadata is the fixed bookkeeping record carried alongside every save
// blob (spec §3 SaveFileState, §4.7): the data-model version the blob
// was written at, the process's session GUID, and the transaction-id
// watermarks used to reconcile deltas against the server checkpoint.
type Metadata struct {
	Version          int32
	SessionGUID      uuid.UUID
	TransactionIDMin uint64
	TransactionIDMax uint64
}

// IsSynchronized reports whether the client believes the server
// checkpoint already reflects every locally applied delta (spec §3:
// "min==max means the client believes the server is synchronised").
func (m Metadata) IsSynchronized() bool {
	return m.TransactionIDMin == m.TransactionIDMax
}
