package emitter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowtrail/snowtrail/internal/archive"
	"github.com/snowtrail/snowtrail/internal/errors"
	"github.com/snowtrail/snowtrail/internal/notify"
	"github.com/snowtrail/snowtrail/internal/payload"
	"github.com/snowtrail/snowtrail/internal/store"
	"github.com/snowtrail/snowtrail/pkg/types"
)

func fixedNow() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

// recorder is a transport that records requests and answers with status.
type recorder struct {
	mu       sync.Mutex
	requests []*Request
	status   atomic.Int32
	fail     atomic.Bool
}

func newRecorder() *recorder {
	r := &recorder{}
	r.status.Store(http.StatusOK)
	return r
}

func (r *recorder) Do(_ context.Context, req *Request) (int, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	if r.fail.Load() {
		return 0, errors.NewTransportError(errors.CodeRequestFailed, "connection refused", nil)
	}
	return int(r.status.Load()), nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func (r *recorder) rowIDs() map[types.RowID]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[types.RowID]int)
	for _, req := range r.requests {
		for _, id := range req.RowIDs {
			seen[id]++
		}
	}
	return seen
}

func pageView(url string) *payload.Payload {
	p := payload.New()
	p.Set(payload.KeyEvent, "pv")
	p.Set("url", url)
	return p
}

func storeCount(t *testing.T, s store.EventStore) int64 {
	t.Helper()
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestNew_EmptyEndpoint(t *testing.T) {
	_, err := New(Config{Endpoint: "  "})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCategoryConfig, errors.GetCategory(err))
	assert.Equal(t, errors.CodeEmptyEndpoint, errors.GetCode(err))
}

func TestNew_Defaults(t *testing.T) {
	e, err := New(Config{Endpoint: "collector.example.com"})
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, "https://collector.example.com/com.snowplowanalytics.snowplow/tp2", e.CollectorURI())
	assert.Equal(t, MethodPost, e.Method())
	assert.Equal(t, ModeAsync, e.Mode())
	assert.Equal(t, DefaultSendLimitAsync, e.SendLimit())
	assert.Equal(t, DefaultByteLimit, e.ByteLimitGet())
	assert.Equal(t, DefaultByteLimit, e.ByteLimitPost())

	se, err := New(Config{Endpoint: "collector.example.com", Mode: ModeSync})
	require.NoError(t, err)
	defer se.Close()
	assert.Equal(t, DefaultSendLimitSync, se.SendLimit())
}

func TestEmitter_Setters(t *testing.T) {
	e, err := New(Config{Endpoint: "a.example.com"})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.SetMethod(MethodGet))
	require.NoError(t, e.SetProtocol(ProtocolHTTP))
	require.NoError(t, e.SetEndpoint("b.example.com:8080"))
	assert.Equal(t, "http://b.example.com:8080/i", e.CollectorURI())

	err = e.SetEndpoint("")
	require.Error(t, err)
	assert.Equal(t, "b.example.com:8080", e.Endpoint())

	require.Error(t, e.SetMethod("PUT"))
	assert.Equal(t, MethodGet, e.Method())

	require.NoError(t, e.SetSendLimit(7))
	require.NoError(t, e.SetSendLimit(0))
	assert.Equal(t, 7, e.SendLimit())

	require.NoError(t, e.SetByteLimitGet(1000))
	require.NoError(t, e.SetByteLimitPost(2000))
	assert.Equal(t, 1000, e.ByteLimitGet())
	assert.Equal(t, 2000, e.ByteLimitPost())
}

func TestEmitter_AsyncDeliversEveryEvent(t *testing.T) {
	rec := newRecorder()
	e, err := New(Config{Endpoint: "c.example.com", SendLimit: 1}, WithTransport(rec))
	require.NoError(t, err)
	defer e.Close()

	e.Start()
	for i := 0; i < 3; i++ {
		e.Add(context.Background(), pageView("https://example.com"))
	}

	assert.Eventually(t, func() bool {
		return rec.count() == 3 && storeCount(t, e.Store()) == 0
	}, 5*time.Second, 10*time.Millisecond)

	snap := e.Stats()
	assert.Equal(t, int64(3), snap.Added)
	assert.Equal(t, int64(3), snap.Sent)
	assert.Equal(t, int64(3), snap.Requests)
}

func TestEmitter_ConcurrentAdds(t *testing.T) {
	rec := newRecorder()
	e, err := New(Config{Endpoint: "c.example.com", SendLimit: 25}, WithTransport(rec))
	require.NoError(t, err)
	defer e.Close()
	e.Start()

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				e.Add(context.Background(), pageView("https://example.com"))
			}
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool {
		return len(rec.rowIDs()) == workers*perWorker && storeCount(t, e.Store()) == 0
	}, 10*time.Second, 10*time.Millisecond)
}

func TestEmitter_TotalFailureKeepsEventsAndPauses(t *testing.T) {
	rec := newRecorder()
	rec.fail.Store(true)

	e, err := New(Config{Endpoint: "c.example.com", FailInterval: 20 * time.Millisecond}, WithTransport(rec))
	require.NoError(t, err)
	defer e.Close()

	e.Start()
	e.Add(context.Background(), pageView("a"))
	e.Add(context.Background(), pageView("b"))

	assert.Eventually(t, func() bool {
		return e.Stats().Paused >= 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(2), storeCount(t, e.Store()))
	assert.Zero(t, e.Stats().Sent)

	// the collector comes back
	rec.fail.Store(false)
	assert.Eventually(t, func() bool {
		return storeCount(t, e.Store()) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEmitter_PartialFailureDeletesOnlyDelivered(t *testing.T) {
	var calls atomic.Int32
	transport := TransportFunc(func(_ context.Context, req *Request) (int, error) {
		if calls.Add(1) == 1 {
			return http.StatusServiceUnavailable, nil
		}
		return http.StatusOK, nil
	})

	e, err := New(Config{Endpoint: "c.example.com", Method: MethodGet, Mode: ModeSync, SendLimit: 100},
		WithTransport(transport))
	require.NoError(t, err)
	defer e.Close()

	for i := 0; i < 3; i++ {
		e.Add(context.Background(), pageView("x"))
	}
	e.Flush(context.Background())

	// one GET failed and its row is retried on the next cycle
	assert.Zero(t, storeCount(t, e.Store()))
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, int64(1), e.Stats().Failed)
}

func TestEmitter_OversizeIsSuccessEvenWhenTransportFails(t *testing.T) {
	rec := newRecorder()
	rec.fail.Store(true)

	objects, err := archive.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	arch := archive.NewArchiver(objects, nil)

	e, err := New(Config{Endpoint: "c.example.com", Mode: ModeSync, ByteLimitPost: 120},
		WithTransport(rec), WithArchiver(arch))
	require.NoError(t, err)
	defer e.Close()

	big := pageView(strings.Repeat("z", 500))
	e.Add(context.Background(), big)
	e.Flush(context.Background())

	assert.Zero(t, storeCount(t, e.Store()))
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, int64(1), e.Stats().Oversize)

	keys, err := arch.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestEmitter_SyncModeDrainsAtSendLimit(t *testing.T) {
	rec := newRecorder()
	e, err := New(Config{Endpoint: "c.example.com", Mode: ModeSync, SendLimit: 3}, WithTransport(rec))
	require.NoError(t, err)
	defer e.Close()

	e.Add(context.Background(), pageView("1"))
	e.Add(context.Background(), pageView("2"))
	assert.Zero(t, rec.count())
	assert.Equal(t, int64(2), storeCount(t, e.Store()))

	e.Add(context.Background(), pageView("3"))
	assert.Equal(t, 1, rec.count())
	assert.Zero(t, storeCount(t, e.Store()))
	assert.False(t, e.IsSending())
}

func TestEmitter_StopPersistsQueuedEvents(t *testing.T) {
	rec := newRecorder()
	rec.fail.Store(true)

	e, err := New(Config{Endpoint: "c.example.com", FailInterval: time.Hour}, WithTransport(rec))
	require.NoError(t, err)

	e.Start()
	for i := 0; i < 5; i++ {
		e.Add(context.Background(), pageView("q"))
	}
	e.Stop()

	assert.False(t, e.IsRunning())
	assert.Zero(t, e.QueueLen())
	assert.Equal(t, int64(5), storeCount(t, e.Store()))

	// restarting resumes delivery of what was left behind
	rec.fail.Store(false)
	e.Start()
	assert.Eventually(t, func() bool {
		return storeCount(t, e.Store()) == 0
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, e.Close())
}

func TestEmitter_FullStoreDropsEvents(t *testing.T) {
	bus := notify.NewNotifier(8)
	sub := bus.Subscribe("drops", notify.EventDropped)

	e, err := New(Config{Endpoint: "c.example.com", Mode: ModeSync, SendLimit: 100},
		WithStore(store.NewMemoryStore(2, nil)), WithNotifier(bus), WithTransport(newRecorder()))
	require.NoError(t, err)
	defer e.Close()

	for i := 0; i < 3; i++ {
		e.Add(context.Background(), pageView("d"))
	}
	assert.Equal(t, int64(2), storeCount(t, e.Store()))
	assert.Equal(t, int64(1), e.Stats().Dropped)

	select {
	case n := <-sub.Ch:
		assert.Equal(t, notify.EventDropped, n.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a drop notification")
	}
}

func TestEmitter_PublishesCycleOutcome(t *testing.T) {
	bus := notify.NewNotifier(8)
	sub := bus.Subscribe("", notify.CycleCompleted)

	e, err := New(Config{Endpoint: "c.example.com", Mode: ModeSync, SendLimit: 100},
		WithNotifier(bus), WithTransport(newRecorder()))
	require.NoError(t, err)
	defer e.Close()

	e.Add(context.Background(), pageView("n1"))
	e.Add(context.Background(), pageView("n2"))
	e.Flush(context.Background())

	select {
	case n := <-sub.Ch:
		assert.Equal(t, 1, n.Requests)
		assert.Equal(t, 1, n.Succeeded)
		assert.Equal(t, 2, n.Deleted)
		assert.Zero(t, n.Pending)
		assert.NotZero(t, n.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("expected a cycle notification")
	}
}

func TestHTTPTransport_Post(t *testing.T) {
	var (
		gotType string
		gotBody []byte
		gotPath string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, err := New(Config{
		Endpoint: strings.TrimPrefix(srv.URL, "http://"),
		Protocol: ProtocolHTTP,
		Mode:     ModeSync,
	})
	require.NoError(t, err)
	defer e.Close()

	e.Add(context.Background(), pageView("p1"))
	e.Add(context.Background(), pageView("p2"))
	e.Flush(context.Background())

	assert.Equal(t, ContentType, gotType)
	assert.Equal(t, PostPathSuffix, gotPath)

	var envelope struct {
		Schema string              `json:"schema"`
		Data   []map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &envelope))
	assert.Equal(t, payload.SchemaPayloadData, envelope.Schema)
	require.Len(t, envelope.Data, 2)
	for _, ev := range envelope.Data {
		assert.Equal(t, "pv", ev[payload.KeyEvent])
		assert.Len(t, ev[payload.KeySentTimestamp], 13)
	}
	assert.Zero(t, storeCount(t, e.Store()))
}

func TestHTTPTransport_Get(t *testing.T) {
	var queries []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Path+"?"+r.URL.RawQuery)
		mu.Unlock()
	}))
	defer srv.Close()

	e, err := New(Config{
		Endpoint: strings.TrimPrefix(srv.URL, "http://"),
		Protocol: ProtocolHTTP,
		Method:   MethodGet,
		Mode:     ModeSync,
	})
	require.NoError(t, err)
	defer e.Close()

	e.Add(context.Background(), pageView("g1"))
	e.Add(context.Background(), pageView("g2"))
	e.Flush(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, queries, 2)
	for _, q := range queries {
		assert.True(t, strings.HasPrefix(q, "/i?e=pv&url=g"), q)
		assert.Contains(t, q, "&stm=")
	}
}

func TestHTTPTransport_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	status, err := NewHTTPTransport(time.Second).Do(context.Background(), &Request{Method: MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, errors.CodeBadStatus, errors.GetCode(err))
	assert.True(t, errors.IsRetryable(err))
}

func TestHTTPTransport_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewHTTPTransport(20*time.Millisecond).Do(context.Background(), &Request{Method: MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, errors.CodeTimeout, errors.GetCode(err))
}

func TestSender_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	transport := TransportFunc(func(context.Context, *Request) (int, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return http.StatusOK, nil
	})

	s := NewSender(transport, 2, 0, 0, nil)
	cfg := Config{Endpoint: "c.example.com", Method: MethodGet}.withDefaults()

	rows := make([]store.Row, 10)
	for i := range rows {
		rows[i] = testRow(uint64(i+1), 4)
	}
	results := s.Send(context.Background(), cfg, rows)

	require.Len(t, results, 10)
	for _, r := range results {
		assert.True(t, r.Success)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}
