package datasync

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/jasrulete/AI-Scheduler/internal/realtime"
	"gorm.io/gorm"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	got  []Collection
	fail map[Collection]bool
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, c Collection) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, c)
	if d.fail[c] {
		return errors.New("backend down")
	}
	return nil
}

func (d *recordingDispatcher) sorted() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.got))
	for _, c := range d.got {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}

func TestCollectionsFor(t *testing.T) {
	cases := map[string][]Collection{
		"create_booking":  {Bookings, Calendar},
		"update_booking":  {Bookings, Calendar},
		"cancel_booking":  {Bookings, Calendar},
		"create_customer": {Customers},
		"update_customer": {Customers},
		"create_service":  {Services},
		"update_service":  {Services},
		"noop_action":     nil,
		"":                nil,
	}
	for action, want := range cases {
		if got := CollectionsFor(action); !reflect.DeepEqual(got, want) {
			t.Errorf("CollectionsFor(%q) = %v, want %v", action, got, want)
		}
	}
}

func TestParseCollection(t *testing.T) {
	if c, err := ParseCollection("customers"); err != nil || c != Customers {
		t.Fatalf("got %q %v", c, err)
	}
	if _, err := ParseCollection("invoices"); err == nil {
		t.Fatalf("expected error for unknown collection")
	}
}

func TestSynchronizer_RefreshBookingAction(t *testing.T) {
	d := &recordingDispatcher{}
	s := NewSynchronizer(d, nil)

	stale := s.Refresh("create_booking")
	s.Wait()

	if !reflect.DeepEqual(stale, []Collection{Bookings, Calendar}) {
		t.Fatalf("unexpected stale set: %v", stale)
	}
	if got := d.sorted(); !reflect.DeepEqual(got, []string{"bookings", "calendar"}) {
		t.Fatalf("unexpected dispatches: %v", got)
	}
}

func TestSynchronizer_UnknownActionRefreshesNothing(t *testing.T) {
	d := &recordingDispatcher{}
	s := NewSynchronizer(d, nil)

	if stale := s.Refresh("noop_action"); len(stale) != 0 {
		t.Fatalf("expected nothing stale, got %v", stale)
	}
	s.Wait()
	if got := d.sorted(); len(got) != 0 {
		t.Fatalf("unexpected dispatches: %v", got)
	}
}

func TestSynchronizer_RefreshAllSurvivesFailures(t *testing.T) {
	d := &recordingDispatcher{fail: map[Collection]bool{Customers: true}}
	s := NewSynchronizer(d, nil)

	s.RefreshAll()
	s.Wait()

	want := []string{"bookings", "calendar", "customers", "services"}
	if got := d.sorted(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSynchronizer_BookingEventsRefreshCalendar(t *testing.T) {
	d := &recordingDispatcher{}
	s := NewSynchronizer(d, nil)
	r := realtime.NewRouter(nil)
	r.Bind(s.Handlers())

	r.Dispatch(realtime.Event{Type: realtime.EventBookingCreated})
	r.Dispatch(realtime.Event{Type: realtime.EventBookingCancelled})
	s.Wait()

	if got := d.sorted(); !reflect.DeepEqual(got, []string{"calendar", "calendar"}) {
		t.Fatalf("unexpected dispatches: %v", got)
	}
}

type gatedFetcher struct {
	calls atomic.Int32
	gate  chan struct{}
}

func (f *gatedFetcher) Fetch(ctx context.Context, collection string) (json.RawMessage, error) {
	f.calls.Add(1)
	<-f.gate
	return json.RawMessage(`[{"collection":"` + collection + `"}]`), nil
}

func TestRefresher_CollapsesConcurrentFetches(t *testing.T) {
	f := &gatedFetcher{gate: make(chan struct{})}
	cache := NewMemoryCache()
	r := NewRefresher(f, cache)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Dispatch(context.Background(), Services); err != nil {
				t.Errorf("dispatch: %v", err)
			}
		}()
	}
	// let the goroutines pile up on the in-flight call
	time.Sleep(50 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	if n := f.calls.Load(); n != 1 {
		t.Fatalf("expected one fetch, got %d", n)
	}
	data, ok, err := cache.Get(context.Background(), Services)
	if err != nil || !ok {
		t.Fatalf("cache miss: ok=%v err=%v", ok, err)
	}
	if !strings.Contains(string(data), "services") {
		t.Fatalf("unexpected cached data: %s", data)
	}
}

type failingFetcher struct{}

func (failingFetcher) Fetch(ctx context.Context, collection string) (json.RawMessage, error) {
	return nil, errors.New("401")
}

func TestRefresher_FetchErrorLeavesCacheUntouched(t *testing.T) {
	cache := NewMemoryCache()
	_ = cache.Put(context.Background(), Bookings, json.RawMessage(`[1]`))
	r := NewRefresher(failingFetcher{}, cache)

	if err := r.Dispatch(context.Background(), Bookings); err == nil {
		t.Fatalf("expected error")
	}
	data, _, _ := cache.Get(context.Background(), Bookings)
	if string(data) != "[1]" {
		t.Fatalf("cache overwritten: %s", data)
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := NewJobRepo(db).Migrate(); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type fakePublisher struct {
	mu   sync.Mutex
	jobs []string
	err  error
}

func (p *fakePublisher) PublishRefetch(ctx context.Context, jobID string, c Collection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, jobID)
	return nil
}

func TestQueueDispatcher_SkipsCollectionAlreadyQueued(t *testing.T) {
	repo := NewJobRepo(openTestDB(t))
	pub := &fakePublisher{}
	q := NewQueueDispatcher(repo, pub)
	ctx := context.Background()

	if err := q.Dispatch(ctx, Customers); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := q.Dispatch(ctx, Customers); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(pub.jobs) != 1 {
		t.Fatalf("expected one publish while queued, got %d", len(pub.jobs))
	}

	// once the worker picks it up, a new refetch is queued again
	if err := repo.UpdateJobStatusRunning(ctx, pub.jobs[0]); err != nil {
		t.Fatalf("running: %v", err)
	}
	if err := q.Dispatch(ctx, Customers); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(pub.jobs) != 2 {
		t.Fatalf("expected a second publish, got %d", len(pub.jobs))
	}

	if err := repo.MarkJobSucceeded(ctx, pub.jobs[0], 42); err != nil {
		t.Fatalf("succeeded: %v", err)
	}
	j, err := repo.GetJobByID(ctx, pub.jobs[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != JobSucceeded || j.Bytes == nil || *j.Bytes != 42 {
		t.Fatalf("unexpected job: %+v", j)
	}
}

func TestQueueDispatcher_PublishFailureMarksJobFailed(t *testing.T) {
	db := openTestDB(t)
	repo := NewJobRepo(db)
	q := NewQueueDispatcher(repo, &fakePublisher{err: errors.New("channel closed")})

	if err := q.Dispatch(context.Background(), Services); err == nil {
		t.Fatalf("expected publish error")
	}
	var jobs []RefetchJob
	if err := db.Find(&jobs).Error; err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != JobFailed || jobs[0].Error == nil {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
}

func TestReconciler_RejectsBadSchedule(t *testing.T) {
	if _, err := NewReconciler("every now and then", NewSynchronizer(&recordingDispatcher{}, nil), nil); err == nil {
		t.Fatalf("expected schedule error")
	}
}

func TestReconciler_RefreshesEverything(t *testing.T) {
	d := &recordingDispatcher{}
	s := NewSynchronizer(d, nil)
	r, err := NewReconciler("@every 1s", s, nil)
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}
	r.Start()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(d.sorted()) >= 4 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	r.Stop()
	s.Wait()
	if got := d.sorted(); len(got) < 4 {
		t.Fatalf("expected a full refresh, got %v", got)
	}
}

func TestSynchronizer_CloseRacesWithRefresh(t *testing.T) {
	d := &recordingDispatcher{}
	s := NewSynchronizer(d, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.RefreshAll()
			}
		}()
	}
	s.Close()
	wg.Wait()

	n := len(d.sorted())
	s.RefreshAll()
	s.Wait()
	if got := len(d.sorted()); got != n {
		t.Fatalf("refresh ran after close: %d -> %d", n, got)
	}
}
