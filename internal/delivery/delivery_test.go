package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pinger/internal/cache"
	"pinger/internal/eventbus"
	"pinger/internal/storage"
	"pinger/internal/task/engine"
	logx "pinger/pkg/logx"
)

type recordedJob struct {
	delay time.Duration
	job   engine.Job
}

// recordingEnqueuer captures scheduled jobs instead of running them, so
// tests can assert on deferral decisions.
type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []recordedJob
}

func (r *recordingEnqueuer) Enqueue(job engine.Job) error {
	return r.EnqueueAfter(0, job)
}

func (r *recordingEnqueuer) EnqueueAfter(delay time.Duration, job engine.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, recordedJob{delay: delay, job: job})
	return nil
}

func (r *recordingEnqueuer) take(t *testing.T) recordedJob {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.jobs) == 0 {
		t.Fatal("no job was scheduled")
	}
	j := r.jobs[0]
	r.jobs = r.jobs[1:]
	return j
}

func (r *recordingEnqueuer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func openTestStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "pinger.db"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedPing(t *testing.T, st storage.Store, url string, alerting bool) (pingID, webhookID int64) {
	t.Helper()
	ctx := context.Background()

	webhookID, err := st.SaveWebhook(ctx, storage.Webhook{
		Nickname:   "alliance-pings",
		URL:        url,
		Categories: []string{"sturucture-attack"},
	})
	if err != nil {
		t.Fatalf("save webhook: %v", err)
	}
	if _, err := st.InsertNotifications(ctx, []storage.Notification{
		{ID: 501, CharacterID: 11, CorporationID: 900, Type: "StructureUnderAttack", Timestamp: time.Now(), Payload: "a: 1"},
	}); err != nil {
		t.Fatalf("insert notification: %v", err)
	}
	pingID, err = st.CreatePing(ctx, storage.Ping{
		NotificationID: 501,
		WebhookID:      webhookID,
		Body:           `{"title":"Structure Under Attack!","color":16756480}`,
		Alerting:       alerting,
		EventTime:      time.Now(),
	})
	if err != nil {
		t.Fatalf("create ping: %v", err)
	}
	return pingID, webhookID
}

func newTestService(t *testing.T, st storage.Store, eng Enqueuer) *Service {
	t.Helper()
	c := cache.NewMemory()
	t.Cleanup(func() { _ = c.Close() })
	return New(Config{Timeout: 5 * time.Second}, c, st, eng, nil, logx.Nop())
}

func TestDeliverMarksSentOnSuccess(t *testing.T) {
	var gotQuery string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	st := openTestStore(t)
	pingID, _ := seedPing(t, st, srv.URL, false)
	eng := &recordingEnqueuer{}
	svc := newTestService(t, st, eng)

	if err := svc.Deliver(context.Background(), pingID); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if gotQuery != "wait=true" {
		t.Fatalf("query = %q, want wait=true", gotQuery)
	}
	var payload struct {
		Content string            `json:"content"`
		Embeds  []json.RawMessage `json:"embeds"`
	}
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Content != "" {
		t.Fatalf("content = %q, want empty for non-alerting ping", payload.Content)
	}
	if len(payload.Embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(payload.Embeds))
	}

	ping, err := st.Ping(context.Background(), pingID)
	if err != nil {
		t.Fatalf("reload ping: %v", err)
	}
	if !ping.Sent {
		t.Fatal("ping not marked sent")
	}
	if eng.count() != 0 {
		t.Fatalf("unexpected reschedule, %d jobs queued", eng.count())
	}
}

func TestAlertingPingMentionsHere(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := openTestStore(t)
	pingID, _ := seedPing(t, st, srv.URL, true)
	svc := newTestService(t, st, &recordingEnqueuer{})

	if err := svc.Deliver(context.Background(), pingID); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Content != "@here" {
		t.Fatalf("content = %q, want @here", payload.Content)
	}
}

func TestAlreadySentPingIsANoOp(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	st := openTestStore(t)
	pingID, _ := seedPing(t, st, srv.URL, false)
	svc := newTestService(t, st, &recordingEnqueuer{})

	ctx := context.Background()
	if err := svc.Deliver(ctx, pingID); err != nil {
		t.Fatalf("first deliver: %v", err)
	}
	if err := svc.Deliver(ctx, pingID); err != nil {
		t.Fatalf("second deliver: %v", err)
	}
	if calls != 1 {
		t.Fatalf("webhook called %d times, want 1", calls)
	}
}

func TestRateLimitSetsCooloffAndReschedules(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"rate limited","retry_after":2000}`))
	}))
	defer srv.Close()

	st := openTestStore(t)
	pingID, webhookID := seedPing(t, st, srv.URL, false)
	eng := &recordingEnqueuer{}
	svc := newTestService(t, st, eng)

	start := time.Now()
	svc.now = func() time.Time { return start }

	if err := svc.Deliver(context.Background(), pingID); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	job := eng.take(t)
	want := 2*time.Second + 150*time.Millisecond
	if job.delay != want {
		t.Fatalf("reschedule delay = %v, want %v", job.delay, want)
	}

	ping, err := st.Ping(context.Background(), pingID)
	if err != nil {
		t.Fatalf("reload ping: %v", err)
	}
	if ping.Sent {
		t.Fatal("rate limited ping must stay unsent")
	}

	// Another ping to the same destination defers without touching the
	// network while the cool-off holds.
	secondID, err := st.CreatePing(context.Background(), storage.Ping{
		NotificationID: 501, WebhookID: webhookID, Body: `{"title":"x"}`, EventTime: start,
	})
	if err != nil {
		t.Fatalf("create second ping: %v", err)
	}
	if secondID != 0 {
		t.Fatalf("duplicate pair created a record, id = %d", secondID)
	}
}

func TestCooloffDefersSiblingDeliveries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"retry_after":"500"}`))
	}))
	defer srv.Close()

	st := openTestStore(t)
	pingID, webhookID := seedPing(t, st, srv.URL, false)
	ctx := context.Background()
	if _, err := st.InsertNotifications(ctx, []storage.Notification{
		{ID: 502, CharacterID: 11, CorporationID: 900, Type: "StructureUnderAttack", Timestamp: time.Now(), Payload: "b: 2"},
	}); err != nil {
		t.Fatalf("insert notification: %v", err)
	}
	siblingID, err := st.CreatePing(ctx, storage.Ping{
		NotificationID: 502, WebhookID: webhookID, Body: `{"title":"y"}`, EventTime: time.Now(),
	})
	if err != nil {
		t.Fatalf("create sibling ping: %v", err)
	}

	eng := &recordingEnqueuer{}
	svc := newTestService(t, st, eng)
	start := time.Now()
	svc.now = func() time.Time { return start }

	if err := svc.Deliver(ctx, pingID); err != nil {
		t.Fatalf("deliver first: %v", err)
	}
	if err := svc.Deliver(ctx, siblingID); err != nil {
		t.Fatalf("deliver sibling: %v", err)
	}
	if calls != 1 {
		t.Fatalf("webhook called %d times, want 1 while cooling off", calls)
	}

	first := eng.take(t)
	sibling := eng.take(t)
	wantFirst := 500*time.Millisecond + 150*time.Millisecond
	if first.delay != wantFirst {
		t.Fatalf("first reschedule = %v, want %v", first.delay, wantFirst)
	}
	// The sibling waits out the remaining cool-off plus the margin.
	if sibling.delay < wantFirst || sibling.delay > wantFirst+150*time.Millisecond {
		t.Fatalf("sibling reschedule = %v, want about %v", sibling.delay, wantFirst)
	}
}

func TestHardFailureIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	st := openTestStore(t)
	pingID, _ := seedPing(t, st, srv.URL, false)
	eng := &recordingEnqueuer{}
	svc := newTestService(t, st, eng)

	err := svc.Deliver(context.Background(), pingID)
	if err == nil {
		t.Fatal("expected an error for a 404 destination")
	}
	if !engine.IsNoRetry(err) {
		t.Fatalf("404 should be permanent, got retryable error %v", err)
	}
	if eng.count() != 0 {
		t.Fatal("permanent failure must not reschedule")
	}
}

// A failing destination gets exactly one POST per scheduled run even on
// an engine configured with retries; any repeat attempt is an explicit
// reschedule, never engine backoff.
func TestFailedDeliveryIsNotRetriedByEngine(t *testing.T) {
	var posts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := openTestStore(t)
	pingID, _ := seedPing(t, st, srv.URL, false)

	eng := engine.New(engine.Config{Workers: 1, QueueSize: 8, RetryMax: 3}, logx.Nop(), eventbus.New())
	eng.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eng.Stop(ctx)
	}()

	svc := newTestService(t, st, eng)
	svc.EnqueueDelivery(pingID)

	deadline := time.Now().Add(2 * time.Second)
	for posts.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Long enough for a second engine attempt to have landed if one
	// were scheduled (default backoff base is 500ms plus jitter).
	time.Sleep(750 * time.Millisecond)
	if got := posts.Load(); got != 1 {
		t.Fatalf("destination received %d posts, want exactly 1", got)
	}
}

// A ping created before a shutdown must still go out after the process
// comes back: the recovery sweep reads pending work from storage, which
// survives the restart, and the dedup window never hides it.
func TestRecoverPendingRedeliversAfterRestart(t *testing.T) {
	var posts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	st := openTestStore(t)
	pingID, _ := seedPing(t, st, srv.URL, false)

	// First process lifetime: the ping is enqueued but the process dies
	// before a worker picks it up.
	lost := &recordingEnqueuer{}
	newTestService(t, st, lost).EnqueueDelivery(pingID)
	if lost.count() != 1 {
		t.Fatalf("enqueued %d jobs, want 1", lost.count())
	}

	// Second lifetime: fresh engine and service, nothing in memory.
	eng := &recordingEnqueuer{}
	svc := newTestService(t, st, eng)
	if err := svc.RecoverPending(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	job := eng.take(t)
	if err := job.job.Run(context.Background()); err != nil {
		t.Fatalf("recovered delivery: %v", err)
	}

	if posts.Load() != 1 {
		t.Fatalf("destination received %d posts, want 1", posts.Load())
	}
	ping, err := st.Ping(context.Background(), pingID)
	if err != nil {
		t.Fatalf("load ping: %v", err)
	}
	if !ping.Sent {
		t.Fatal("recovered ping not marked sent")
	}

	// A later sweep finds nothing left to do.
	if err := svc.RecoverPending(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if eng.count() != 0 {
		t.Fatalf("second sweep re-enqueued a sent ping")
	}
}
