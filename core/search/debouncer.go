// Package search collapses keystroke-rate queries into debounced catalogue
// searches whose results arrive in last-request-wins order.
package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"musaic/logger"
	"musaic/model"
)

// FailureMessage is shown when a search request is rejected.
const FailureMessage = "Failed to fetch search results."

// Searcher performs one catalogue search.
type Searcher interface {
	SearchTracks(ctx context.Context, query string) (*model.SearchResult, error)
}

// Update is a view change produced by the debouncer. A nil Results with
// Loading false and no Err means the list was cleared.
type Update struct {
	Query   string              `json:"query"`
	Results *model.SearchResult `json:"results"`
	Loading bool                `json:"loading"`
	Err     string              `json:"error,omitempty"`
}

// Debouncer keeps at most one pending search task per input source.
type Debouncer struct {
	searcher Searcher
	delay    time.Duration
	sink     func(Update)

	mu         sync.Mutex
	timer      *time.Timer
	pending    string
	inputSeq   uint64 // bumps on every keystroke; stale timers compare against it
	generation uint64 // bumps on every fired task; stale responses compare against it
	cancel     context.CancelFunc
	closed     bool

	emitMu sync.Mutex // serialises sink calls
}

// NewDebouncer creates a debouncer. sink receives every update and must not
// call Close.
func NewDebouncer(searcher Searcher, delay time.Duration, sink func(Update)) *Debouncer {
	return &Debouncer{
		searcher: searcher,
		delay:    delay,
		sink:     sink,
	}
}

// Input records the latest query and restarts the quiescence timer.
func (d *Debouncer) Input(query string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	d.pending = query
	d.inputSeq++
	seq := d.inputSeq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(seq) })
}

// Clear empties the query at once. The pending timer is dropped, any
// in-flight request is cancelled and its response discarded.
func (d *Debouncer) Clear() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.pending = ""
	d.inputSeq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.generation++
	gen := d.generation
	d.mu.Unlock()

	d.emit(gen, Update{})
}

func (d *Debouncer) fire(seq uint64) {
	d.mu.Lock()
	if d.closed || seq != d.inputSeq {
		d.mu.Unlock()
		return
	}
	query := d.pending
	d.timer = nil

	// 新请求会取消仍在进行中的旧请求
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.generation++
	gen := d.generation

	if strings.TrimSpace(query) == "" {
		d.mu.Unlock()
		d.emit(gen, Update{Query: query})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.mu.Unlock()

	d.emit(gen, Update{Query: query, Loading: true})
	d.run(ctx, gen, query)
}

func (d *Debouncer) run(ctx context.Context, gen uint64, query string) {
	result, err := d.searcher.SearchTracks(ctx, query)

	d.mu.Lock()
	if gen == d.generation && d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("[Search] 搜索失败", logger.String("query", query), logger.ErrorField(err))
		}
		d.emit(gen, Update{Query: query, Err: FailureMessage})
		return
	}
	d.emit(gen, Update{Query: query, Results: result})
}

// emit forwards u unless a newer task has started or the debouncer closed.
func (d *Debouncer) emit(gen uint64, u Update) {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	d.mu.Lock()
	stale := d.closed || gen != d.generation
	d.mu.Unlock()
	if stale {
		logger.Debug("[Search] 丢弃过期结果", logger.String("query", u.Query))
		return
	}
	if d.sink != nil {
		d.sink(u)
	}
}

// Close stops the pending timer and cancels any in-flight request. No update
// is delivered after Close returns.
func (d *Debouncer) Close() {
	d.mu.Lock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()

	// wait for an emission that passed the closed check
	d.emitMu.Lock()
	d.emitMu.Unlock()
}
