// Package saveload implements the SaveLoadService: a single
// background worker that drains a FIFO of load, save and reset
// operations across every save slot, writing an encrypted local blob
// via pkg/savecontainer and optionally reconciling it against a cloud
// endpoint.
package saveload

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/ludic-games/contentfs/pkg/savecontainer"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Service is the SaveLoadService.
type Service struct {
	cfg       Config
	logger    *logrus.Entry
	container *savecontainer.Container

	queue *requestQueue

	sessionMu   sync.Mutex
	sessionGUID uuid.UUID

	slotsMu sync.Mutex
	slots   map[string]*slotState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Service bound to the given save-container
// encryption key and immediately starts its background worker.
func New(key [32]byte, cfg Config) *Service {
	registerStats()
	cfg = cfg.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:         cfg,
		logger:      cfg.Logger.WithField("component", "saveload"),
		container:   savecontainer.New(key),
		queue:       newRequestQueue(),
		sessionGUID: uuid.New(),
		slots:       map[string]*slotState{},
		ctx:         ctx,
		cancel:      cancel,
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// SessionGUID returns the process's current save session identifier.
func (s *Service) SessionGUID() uuid.UUID {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.sessionGUID
}

func (s *Service) setSessionGUID(g uuid.UUID) {
	s.sessionMu.Lock()
	s.sessionGUID = g
	s.sessionMu.Unlock()
}

func (s *Service) run() {
	defer s.wg.Done()
	for {
		item, ok := s.queue.pop()
		if !ok {
			return
		}
		switch item.kind {
		case opLoad:
			s.processLoad(s.ctx, item.load)
		case opSave:
			s.processSave(s.ctx, item.save)
		case opReset:
			s.processReset(item.reset)
		}
	}
}

func (s *Service) slotPath(slot Slot) string {
	return filepath.Join(s.cfg.AbsoluteSaveDirectory, slot.RelativeFilename())
}

// QueueLoadRequest bundles the parameters of a queued load.
type QueueLoadRequest struct {
	Slot Slot

	// CloudURL, if non-empty, is queried for a possibly-fresher
	// checkpoint before migrations run.
	CloudURL string

	ExpectedVersion int32
	// SaveData, if non-nil, must be a pointer; the migrated document
	// is decoded into it, the same convention as savecontainer.Decode.
	SaveData     interface{}
	Migrations   MigrationChain
	ResetSession bool

	Callback     LoadCallback
	OnMainThread bool
}

// QueueLoad enqueues a load operation for req.Slot.
func (s *Service) QueueLoad(req QueueLoadRequest) *Handle {
	h := newHandle()
	lr := &loadRequest{
		slot:            req.Slot,
		cloudURL:        req.CloudURL,
		expectedVersion: req.ExpectedVersion,
		saveData:        req.SaveData,
		migrations:      req.Migrations,
		resetSession:    req.ResetSession,
		callback:        req.Callback,
		onMainThread:    req.OnMainThread,
		handle:          h,
	}
	s.queue.push(&queueItem{kind: opLoad, load: lr})
	return h
}

// QueueSaveRequest bundles the parameters of a queued save. SaveData is
// snapshotted into a generic document before QueueSave returns, so
// later mutation by the caller cannot race with the worker.
type QueueSaveRequest struct {
	Slot     Slot
	CloudURL string
	SaveData interface{}
	Version  int32

	// ForceImmediateCloud bypasses the per-slot cloud-save rate limit.
	ForceImmediateCloud bool

	Callback     SaveCallback
	OnMainThread bool
}

// QueueSave snapshots req.SaveData and enqueues a save operation.
// Redundancy elimination means that if an earlier, not-yet-started save
// for the same slot shares (callback, version, force_cloud_flag), it is
// superseded rather than run.
func (s *Service) QueueSave(req QueueSaveRequest) (*Handle, error) {
	fullMap, err := snapshotToMap(req.SaveData)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "saveload: failed to snapshot save data: %s", err)
	}
	h := newHandle()
	sr := &saveRequest{
		slot:                req.Slot,
		cloudURL:            req.CloudURL,
		fullMap:             fullMap,
		version:             req.Version,
		forceImmediateCloud: req.ForceImmediateCloud,
		callback:            req.Callback,
		onMainThread:        req.OnMainThread,
		handle:              h,
	}
	sr.dedup = dedupKey{
		slotKey:    req.Slot.Key(),
		version:    req.Version,
		forceCloud: req.ForceImmediateCloud,
		callback:   callbackIdentity(req.Callback),
	}
	s.queue.push(&queueItem{kind: opSave, save: sr})
	return h, nil
}

// QueueSaveReset clears a slot's local file and in-memory state, and
// optionally regenerates the process's session GUID. Intended for
// developer/debug use, not the normal gameplay save path.
func (s *Service) QueueSaveReset(slot Slot, regenerateSession bool) *Handle {
	h := newHandle()
	s.queue.push(&queueItem{kind: opReset, reset: &resetRequest{
		slot:              slot,
		regenerateSession: regenerateSession,
		handle:            h,
	}})
	return h
}

// Shutdown stops accepting new work, lets the in-flight operation
// finish, and joins the worker goroutine.
func (s *Service) Shutdown() {
	s.cancel()
	s.queue.close()
	s.wg.Wait()
}

func (s *Service) dispatch(fn func()) {
	if s.cfg.MainThreadDispatcher != nil {
		s.cfg.MainThreadDispatcher(fn)
		return
	}
	fn()
}

func (s *Service) deliverLoad(req *loadRequest, outcome LoadOutcome, err error) {
	statsQueueDepth.Dec()
	observeLoad(outcome)
	req.handle.complete(err)
	if req.callback == nil {
		return
	}
	cb, o, e := req.callback, outcome, err
	if req.onMainThread {
		s.dispatch(func() { cb(o, e) })
		return
	}
	cb(o, e)
}

func (s *Service) deliverSave(req *saveRequest, outcome SaveOutcome, err error) {
	statsQueueDepth.Dec()
	observeSave(outcome)
	req.handle.complete(err)
	if req.callback == nil {
		return
	}
	cb, o, e := req.callback, outcome, err
	if req.onMainThread {
		s.dispatch(func() { cb(o, e) })
		return
	}
	cb(o, e)
}

// ensureSlotLoaded returns slot's in-memory state, hydrating it from
// the local blob on its first use this session.
func (s *Service) ensureSlotLoaded(slot Slot) *slotState {
	s.slotsMu.Lock()
	st, ok := s.slots[slot.Key()]
	if !ok {
		st = &slotState{}
		s.slots[slot.Key()] = st
	}
	s.slotsMu.Unlock()

	if st.loaded {
		return st
	}
	st.loaded = true

	blob, err := s.cfg.LocalAPI.Load(s.slotPath(slot))
	if err != nil {
		st.lastLocalResult = LocalResultNotFound
		return st
	}

	var saveMap, pendingMap map[string]interface{}
	metadata, err := s.container.Decode(blob, &saveMap, &pendingMap)
	if err != nil {
		st.lastLocalResult = LocalResultCorrupt
		return st
	}

	st.checkpoint = saveMap
	st.pendingDelta = pendingMap
	st.metadataVersion = metadata.Version
	st.transactionIDMin = metadata.TransactionIDMin
	st.transactionIDMax = metadata.TransactionIDMax
	st.lastLocalResult = LocalResultSuccess
	return st
}

func (s *Service) processReset(req *resetRequest) {
	_ = s.cfg.LocalAPI.Delete(s.slotPath(req.slot))

	s.slotsMu.Lock()
	delete(s.slots, req.slot.Key())
	s.slotsMu.Unlock()

	if req.regenerateSession {
		s.setSessionGUID(uuid.New())
	}
	statsQueueDepth.Dec()
	observeReset()
	req.handle.complete(nil)
}
