package saveload

import (
	"time"

	"github.com/ludic-games/contentfs/pkg/filepath"
)

// Slot identifies one save file's queue, using the same FilePath type
// the downloader keys package entries by.
type Slot = filepath.FilePath

// slotState is the in-memory shadow of one slot's last known state:
// the checkpoint (the last locally or cloud-confirmed save document),
// any still-unconfirmed pending delta, and the transaction-id
// watermarks used to decide how much of a future save is new.
type slotState struct {
	loaded          bool
	lastLocalResult LocalResult

	checkpoint       map[string]interface{}
	pendingDelta     map[string]interface{}
	metadataVersion  int32
	transactionIDMin uint64
	transactionIDMax uint64

	lastCloudSave time.Time
}
