package saveload

import "reflect"

type opKind int

const (
	opLoad opKind = iota
	opSave
	opReset
)

// LoadCallback is invoked once a queued load settles. err is non-nil
// only when FinalResult is not FinalResultSuccess.
type LoadCallback func(LoadOutcome, error)

// SaveCallback is invoked once a queued save settles. err is non-nil
// when either leg fails: a cloud-side failure after a successful local
// write sets err while FinalResult stays FinalResultSuccess.
type SaveCallback func(SaveOutcome, error)

type loadRequest struct {
	slot            Slot
	cloudURL        string
	expectedVersion int32
	saveData        interface{}
	migrations      MigrationChain
	resetSession    bool
	callback        LoadCallback
	onMainThread    bool
	handle          *Handle
}

// dedupKey identifies operations eligible for redundancy elimination:
// two queued saves on the same slot sharing (callback, kind, path,
// version, force_cloud_flag) collapse into one, since the later save
// always supersedes the earlier one's effect.
type dedupKey struct {
	slotKey    string
	version    int32
	forceCloud bool
	callback   uintptr
}

type saveRequest struct {
	slot                Slot
	cloudURL            string
	fullMap             map[string]interface{}
	version             int32
	forceImmediateCloud bool
	callback            SaveCallback
	onMainThread        bool
	handle              *Handle
	dedup               dedupKey
}

type resetRequest struct {
	slot              Slot
	regenerateSession bool
	handle            *Handle
}

type queueItem struct {
	kind  opKind
	load  *loadRequest
	save  *saveRequest
	reset *resetRequest
}

func (q *queueItem) slotKey() string {
	switch q.kind {
	case opLoad:
		return q.load.slot.Key()
	case opSave:
		return q.save.slot.Key()
	case opReset:
		return q.reset.slot.Key()
	}
	return ""
}

// dedupKeyOf returns q's dedup key, if it participates in redundancy
// elimination at all (only queued saves do).
func (q *queueItem) dedupKeyOf() (dedupKey, bool) {
	if q.kind != opSave {
		return dedupKey{}, false
	}
	return q.save.dedup, true
}

func callbackIdentity(cb SaveCallback) uintptr {
	if cb == nil {
		return 0
	}
	return reflect.ValueOf(cb).Pointer()
}
