package saveload_test

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	contentfspath "github.com/ludic-games/contentfs/pkg/filepath"
	"github.com/ludic-games/contentfs/pkg/saveload"
	"github.com/stretchr/testify/require"
)

func testKey() [32]byte {
	var key [32]byte
	for i := range key {
		key[i] = byte(i * 3)
	}
	return key
}

func testSlot(name string) contentfspath.FilePath {
	return contentfspath.NewFromRelativeFilename(1, name)
}

func newTestService(t *testing.T, dir string, httpClient *testHTTPClient) *saveload.Service {
	t.Helper()
	cfg := saveload.Config{
		AbsoluteSaveDirectory: dir,
		BackoffBase:           time.Millisecond,
		BackoffGrowth:         1.5,
		BackoffMax:            5 * time.Millisecond,
		ResendOnFailure:       true,
		CloudSaveRateLimit:    time.Hour,
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	svc := saveload.New(testKey(), cfg)
	t.Cleanup(svc.Shutdown)
	return svc
}

// testHTTPClient routes every request to an in-process cloudServer,
// avoiding a real network listener per test.
type testHTTPClient struct {
	server *cloudServer
}

func (c *testHTTPClient) Do(req *http.Request) (*http.Response, error) {
	rr := httptest.NewRecorder()
	c.server.ServeHTTP(rr, req)
	return rr.Result(), nil
}

// cloudServer plays back a fixed sequence of HTTP statuses/bodies for
// successive POSTs, and records each request's decoded form.
type cloudServer struct {
	mu        sync.Mutex
	responses []int
	bodies    [][]byte
	requests  []url.Values
}

func (c *cloudServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	c.mu.Lock()
	idx := len(c.requests)
	c.requests = append(c.requests, r.PostForm)
	statusCode := http.StatusOK
	if idx < len(c.responses) {
		statusCode = c.responses[idx]
	} else if len(c.responses) > 0 {
		statusCode = c.responses[len(c.responses)-1]
	}
	var body []byte
	if idx < len(c.bodies) {
		body = c.bodies[idx]
	}
	c.mu.Unlock()
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}

func (c *cloudServer) requestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *cloudServer) decodedData(idx int) map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := base64.StdEncoding.DecodeString(c.requests[idx].Get("data"))
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := cbor.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func TestSaveThenLoadLocalRoundTrip(t *testing.T) {
	svc := newTestService(t, t.TempDir(), nil)
	slot := testSlot("players/p1.sav")

	handle, err := svc.QueueSave(saveload.QueueSaveRequest{
		Slot:     slot,
		SaveData: map[string]interface{}{"level": "12", "zone": "forest"},
		Version:  1,
	})
	require.NoError(t, err)
	require.NoError(t, handle.Wait())

	var loaded map[string]interface{}
	loadHandle := svc.QueueLoad(saveload.QueueLoadRequest{
		Slot:            slot,
		ExpectedVersion: 1,
		SaveData:        &loaded,
	})
	require.NoError(t, loadHandle.Wait())
	require.Equal(t, "12", loaded["level"])
	require.Equal(t, "forest", loaded["zone"])
}

func TestLoadOfUnknownSlotReportsNotFound(t *testing.T) {
	svc := newTestService(t, t.TempDir(), nil)
	slot := testSlot("players/missing.sav")

	var outcome saveload.LoadOutcome
	var outErr error
	done := make(chan struct{})
	svc.QueueLoad(saveload.QueueLoadRequest{
		Slot:            slot,
		ExpectedVersion: 1,
		Callback: func(o saveload.LoadOutcome, err error) {
			outcome, outErr = o, err
			close(done)
		},
	})
	<-done
	require.Error(t, outErr)
	require.Equal(t, saveload.FinalResultNotFound, outcome.FinalResult)
	require.Equal(t, saveload.LocalResultNotFound, outcome.LocalResult)
}

func TestLoadAppliesMigrationChain(t *testing.T) {
	svc := newTestService(t, t.TempDir(), nil)
	slot := testSlot("players/p2.sav")

	handle, err := svc.QueueSave(saveload.QueueSaveRequest{
		Slot:     slot,
		SaveData: map[string]interface{}{"rank": "bronze"},
		Version:  1,
	})
	require.NoError(t, err)
	require.NoError(t, handle.Wait())

	migrations := saveload.MigrationChain{
		1: func(doc map[string]interface{}) (map[string]interface{}, error) {
			doc["rank"] = "silver"
			doc["migrated_from"] = float64(1)
			return doc, nil
		},
		2: func(doc map[string]interface{}) (map[string]interface{}, error) {
			doc["rank"] = "gold"
			return doc, nil
		},
	}

	var loaded map[string]interface{}
	loadHandle := svc.QueueLoad(saveload.QueueLoadRequest{
		Slot:            slot,
		ExpectedVersion: 3,
		SaveData:        &loaded,
		Migrations:      migrations,
	})
	require.NoError(t, loadHandle.Wait())
	require.Equal(t, "gold", loaded["rank"])
	require.Equal(t, float64(1), loaded["migrated_from"])
}

func TestLoadWithMissingMigrationFails(t *testing.T) {
	svc := newTestService(t, t.TempDir(), nil)
	slot := testSlot("players/p3.sav")

	handle, err := svc.QueueSave(saveload.QueueSaveRequest{
		Slot:     slot,
		SaveData: map[string]interface{}{"rank": "bronze"},
		Version:  1,
	})
	require.NoError(t, err)
	require.NoError(t, handle.Wait())

	var outcome saveload.LoadOutcome
	var outErr error
	done := make(chan struct{})
	svc.QueueLoad(saveload.QueueLoadRequest{
		Slot:            slot,
		ExpectedVersion: 5,
		Migrations:      saveload.MigrationChain{},
		Callback: func(o saveload.LoadOutcome, err error) {
			outcome, outErr = o, err
			close(done)
		},
	})
	<-done
	require.Error(t, outErr)
	require.Equal(t, saveload.FinalResultMigrationFailure, outcome.FinalResult)
}

func TestCloudSaveSuccessIsReported(t *testing.T) {
	server := &cloudServer{responses: []int{saveload.CloudStatusSuccess}}
	svc := newTestService(t, t.TempDir(), &testHTTPClient{server: server})
	slot := testSlot("players/p4.sav")

	handle, err := svc.QueueSave(saveload.QueueSaveRequest{
		Slot:                slot,
		SaveData:            map[string]interface{}{"a": "1"},
		Version:             1,
		CloudURL:            "http://cloud.test/save",
		ForceImmediateCloud: true,
	})
	require.NoError(t, err)
	require.NoError(t, handle.Wait())
	require.Equal(t, 1, server.requestCount())
}

func TestCloudSaveNeedsFullCheckpointResendsFullSnapshot(t *testing.T) {
	server := &cloudServer{responses: []int{saveload.CloudStatusServerNeedsFullCheckpoint, saveload.CloudStatusSuccess}}
	svc := newTestService(t, t.TempDir(), &testHTTPClient{server: server})
	slot := testSlot("players/p5.sav")

	// First, establish a local checkpoint with no cloud interaction.
	h1, err := svc.QueueSave(saveload.QueueSaveRequest{
		Slot:     slot,
		SaveData: map[string]interface{}{"a": "1", "b": "1"},
		Version:  1,
	})
	require.NoError(t, err)
	require.NoError(t, h1.Wait())

	// Second save only changes "b"; the delta sent to the cloud should
	// be partial until the server demands a full checkpoint.
	h2, err := svc.QueueSave(saveload.QueueSaveRequest{
		Slot:                slot,
		SaveData:            map[string]interface{}{"a": "1", "b": "2"},
		Version:             1,
		CloudURL:            "http://cloud.test/save",
		ForceImmediateCloud: true,
	})
	require.NoError(t, err)
	require.NoError(t, h2.Wait())

	require.Equal(t, 2, server.requestCount())
	firstSent := server.decodedData(0)
	require.NotContains(t, firstSent, "a")
	require.Equal(t, "2", firstSent["b"])

	secondSent := server.decodedData(1)
	require.Equal(t, "1", secondSent["a"])
	require.Equal(t, "2", secondSent["b"])
}

func TestCloudTransientFailureIsRetried(t *testing.T) {
	server := &cloudServer{responses: []int{http.StatusServiceUnavailable, saveload.CloudStatusSuccess}}
	svc := newTestService(t, t.TempDir(), &testHTTPClient{server: server})
	slot := testSlot("players/p6.sav")

	handle, err := svc.QueueSave(saveload.QueueSaveRequest{
		Slot:                slot,
		SaveData:            map[string]interface{}{"a": "1"},
		Version:             1,
		CloudURL:            "http://cloud.test/save",
		ForceImmediateCloud: true,
	})
	require.NoError(t, err)
	require.NoError(t, handle.Wait())
	require.Equal(t, 2, server.requestCount())
}

func TestCloudPermanentFailureDoesNotBlockLocalSave(t *testing.T) {
	server := &cloudServer{responses: []int{http.StatusForbidden}}
	svc := newTestService(t, t.TempDir(), &testHTTPClient{server: server})
	slot := testSlot("players/p7.sav")

	var outcome saveload.SaveOutcome
	var outErr error
	done := make(chan struct{})
	svc.QueueSave(saveload.QueueSaveRequest{
		Slot:                slot,
		SaveData:            map[string]interface{}{"a": "1"},
		Version:             1,
		CloudURL:            "http://cloud.test/save",
		ForceImmediateCloud: true,
		Callback: func(o saveload.SaveOutcome, err error) {
			outcome, outErr = o, err
			close(done)
		},
	})
	<-done
	require.Error(t, outErr)
	require.Equal(t, saveload.LocalResultSuccess, outcome.LocalResult)
	require.Equal(t, saveload.CloudResultPermanentFailure, outcome.CloudResult)
	require.Equal(t, saveload.FinalResultSuccess, outcome.FinalResult)

	// The local write must have landed despite the cloud rejection.
	var loaded map[string]interface{}
	loadHandle := svc.QueueLoad(saveload.QueueLoadRequest{Slot: slot, ExpectedVersion: 1, SaveData: &loaded})
	require.NoError(t, loadHandle.Wait())
	require.Equal(t, "1", loaded["a"])
}

func TestQueueSaveReset(t *testing.T) {
	svc := newTestService(t, t.TempDir(), nil)
	slot := testSlot("players/p8.sav")

	handle, err := svc.QueueSave(saveload.QueueSaveRequest{
		Slot:     slot,
		SaveData: map[string]interface{}{"a": "1"},
		Version:  1,
	})
	require.NoError(t, err)
	require.NoError(t, handle.Wait())

	sessionBefore := svc.SessionGUID()
	resetHandle := svc.QueueSaveReset(slot, true)
	require.NoError(t, resetHandle.Wait())
	require.NotEqual(t, sessionBefore, svc.SessionGUID())

	var outcome saveload.LoadOutcome
	var outErr error
	done := make(chan struct{})
	svc.QueueLoad(saveload.QueueLoadRequest{
		Slot:            slot,
		ExpectedVersion: 1,
		Callback: func(o saveload.LoadOutcome, err error) {
			outcome, outErr = o, err
			close(done)
		},
	})
	<-done
	require.Error(t, outErr)
	require.Equal(t, saveload.FinalResultNotFound, outcome.FinalResult)
}

func TestQueueSaveRedundancyEliminationDropsSupersededSave(t *testing.T) {
	svc := newTestService(t, t.TempDir(), nil)
	slot := testSlot("players/p9.sav")

	var runCount int32
	cb := func(o saveload.SaveOutcome, err error) {
		atomic.AddInt32(&runCount, 1)
	}

	// Force the first save to land on the worker and hang there, giving
	// the test a window to enqueue two more saves with an identical
	// dedup key while only still queued (not yet started).
	blocker := make(chan struct{})
	first, err := svc.QueueSave(saveload.QueueSaveRequest{
		Slot:     slot,
		SaveData: map[string]interface{}{"a": "0"},
		Version:  1,
		Callback: func(o saveload.SaveOutcome, err error) {
			<-blocker
			atomic.AddInt32(&runCount, 1)
		},
	})
	require.NoError(t, err)

	// Give the worker a moment to actually start processing `first`
	// before the next two are enqueued, so they land in the queue
	// rather than racing to be popped first.
	time.Sleep(20 * time.Millisecond)

	second, err := svc.QueueSave(saveload.QueueSaveRequest{
		Slot:     slot,
		SaveData: map[string]interface{}{"a": "1"},
		Version:  1,
		Callback: cb,
	})
	require.NoError(t, err)

	third, err := svc.QueueSave(saveload.QueueSaveRequest{
		Slot:     slot,
		SaveData: map[string]interface{}{"a": "2"},
		Version:  1,
		Callback: cb,
	})
	require.NoError(t, err)

	close(blocker)
	require.NoError(t, first.Wait())
	require.NoError(t, second.Wait())
	require.NoError(t, third.Wait())

	require.Equal(t, int32(2), atomic.LoadInt32(&runCount))

	var loaded map[string]interface{}
	loadHandle := svc.QueueLoad(saveload.QueueLoadRequest{Slot: slot, ExpectedVersion: 1, SaveData: &loaded})
	require.NoError(t, loadHandle.Wait())
	require.Equal(t, "2", loaded["a"])
}
