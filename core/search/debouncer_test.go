package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"musaic/model"
)

type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	block   map[string]chan struct{} // queries that wait for a release
	fail    map[string]bool
}

func (f *fakeSearcher) SearchTracks(ctx context.Context, query string) (*model.SearchResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	release := f.block[query]
	fail := f.fail[query]
	f.mu.Unlock()

	if release != nil {
		<-release // ignores ctx on purpose: a slow upstream still answers late
	}
	if fail {
		return nil, errors.New("upstream down")
	}
	return &model.SearchResult{Query: query, Tracks: []model.TrackSummary{{ID: query}}}, nil
}

func (f *fakeSearcher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type recorder struct {
	mu      sync.Mutex
	updates []Update
	notify  chan Update
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan Update, 64)}
}

func (r *recorder) sink(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
	r.notify <- u
}

// waitFor blocks until an update satisfying pred arrives.
func (r *recorder) waitFor(t *testing.T, pred func(Update) bool) Update {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case u := <-r.notify:
			if pred(u) {
				return u
			}
		case <-timeout:
			t.Fatal("timed out waiting for update")
			return Update{}
		}
	}
}

func (r *recorder) last() Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[len(r.updates)-1]
}

func isFinal(u Update) bool { return !u.Loading }

func TestRapidTypingIssuesOneRequest(t *testing.T) {
	s := &fakeSearcher{}
	rec := newRecorder()
	d := NewDebouncer(s, 30*time.Millisecond, rec.sink)
	defer d.Close()

	for _, q := range []string{"b", "bi", "bil", "bill"} {
		d.Input(q)
		time.Sleep(2 * time.Millisecond)
	}

	u := rec.waitFor(t, isFinal)
	if u.Results == nil || u.Results.Query != "bill" {
		t.Fatalf("final update = %+v, want results for bill", u)
	}
	time.Sleep(60 * time.Millisecond)
	if calls := s.calls(); len(calls) != 1 || calls[0] != "bill" {
		t.Errorf("calls = %v, want [bill]", calls)
	}
}

func TestBlankQueryClearsWithoutRequest(t *testing.T) {
	s := &fakeSearcher{}
	rec := newRecorder()
	d := NewDebouncer(s, 10*time.Millisecond, rec.sink)
	defer d.Close()

	d.Input("   ")
	u := rec.waitFor(t, func(Update) bool { return true })
	if u.Loading || u.Results != nil || u.Err != "" {
		t.Errorf("update = %+v, want cleared", u)
	}
	if calls := s.calls(); len(calls) != 0 {
		t.Errorf("calls = %v, want none", calls)
	}
}

func TestLastRequestWins(t *testing.T) {
	releaseX := make(chan struct{})
	s := &fakeSearcher{block: map[string]chan struct{}{"x": releaseX}}
	rec := newRecorder()
	d := NewDebouncer(s, 5*time.Millisecond, rec.sink)
	defer d.Close()

	d.Input("x")
	rec.waitFor(t, func(u Update) bool { return u.Loading && u.Query == "x" })

	d.Input("xy")
	u := rec.waitFor(t, isFinal)
	if u.Results == nil || u.Results.Query != "xy" {
		t.Fatalf("update = %+v, want results for xy", u)
	}

	// A completes after B.
	close(releaseX)
	time.Sleep(30 * time.Millisecond)

	if got := rec.last(); got.Results == nil || got.Results.Query != "xy" {
		t.Errorf("last update = %+v, want xy to stay displayed", got)
	}
}

func TestFailureSurfacesMessage(t *testing.T) {
	s := &fakeSearcher{fail: map[string]bool{"oops": true}}
	rec := newRecorder()
	d := NewDebouncer(s, 5*time.Millisecond, rec.sink)
	defer d.Close()

	d.Input("oops")
	u := rec.waitFor(t, isFinal)
	if u.Err != FailureMessage || u.Loading {
		t.Errorf("update = %+v, want error %q and not loading", u, FailureMessage)
	}
	if len(s.calls()) != 1 {
		t.Errorf("calls = %v, want exactly one (no retry)", s.calls())
	}
}

func TestCloseStopsPendingTimer(t *testing.T) {
	s := &fakeSearcher{}
	rec := newRecorder()
	d := NewDebouncer(s, 20*time.Millisecond, rec.sink)

	d.Input("late")
	d.Close()
	time.Sleep(50 * time.Millisecond)

	if calls := s.calls(); len(calls) != 0 {
		t.Errorf("calls after Close = %v, want none", calls)
	}
	select {
	case u := <-rec.notify:
		t.Errorf("unexpected update after Close: %+v", u)
	default:
	}

	d.Input("ignored")
	time.Sleep(40 * time.Millisecond)
	if calls := s.calls(); len(calls) != 0 {
		t.Errorf("Input after Close issued %v", calls)
	}
}

func TestClearDiscardsInFlightResponse(t *testing.T) {
	releaseQ := make(chan struct{})
	s := &fakeSearcher{block: map[string]chan struct{}{"naima": releaseQ}}
	rec := newRecorder()
	d := NewDebouncer(s, 5*time.Millisecond, rec.sink)
	defer d.Close()

	d.Input("naima")
	rec.waitFor(t, func(u Update) bool { return u.Loading && u.Query == "naima" })

	d.Clear()
	if got := rec.last(); got.Loading || got.Results != nil || got.Query != "" {
		t.Fatalf("update after Clear = %+v, want cleared", got)
	}

	// 旧请求在清空后返回，不能再显示
	close(releaseQ)
	time.Sleep(30 * time.Millisecond)
	if got := rec.last(); got.Results != nil {
		t.Errorf("last update = %+v, want list to stay cleared", got)
	}
}

func TestClearDropsPendingTimer(t *testing.T) {
	s := &fakeSearcher{}
	rec := newRecorder()
	d := NewDebouncer(s, 20*time.Millisecond, rec.sink)
	defer d.Close()

	d.Input("pending")
	d.Clear()
	time.Sleep(50 * time.Millisecond)
	if calls := s.calls(); len(calls) != 0 {
		t.Errorf("calls = %v, want none", calls)
	}
}
