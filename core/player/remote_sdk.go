package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"musaic/core/spotify"
	"musaic/logger"
	"musaic/model"
)

// RemoteAPI is the slice of the Web API the remote SDK drives.
type RemoteAPI interface {
	Devices(ctx context.Context) ([]spotify.Device, error)
	PlayerState(ctx context.Context) (*spotify.PlayerState, error)
	Resume(ctx context.Context, deviceID string) error
	Pause(ctx context.Context, deviceID string) error
	Next(ctx context.Context, deviceID string) error
	Previous(ctx context.Context, deviceID string) error
	Seek(ctx context.Context, positionMs int, deviceID string) error
	SetVolume(ctx context.Context, percent int, deviceID string) error
}

// RemoteSDK implements SDK on top of the Web API: it targets one of the
// user's existing devices and watches /me/player for changes.
type RemoteSDK struct {
	api      RemoteAPI
	interval time.Duration

	events chan Event
	stop   chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	deviceID  string
	last      *model.PlaybackState
	fetchedAt time.Time
	connected bool
	closed    bool
	stopOnce  sync.Once
}

// NewRemoteSDK creates a disconnected remote SDK.
func NewRemoteSDK(api RemoteAPI, interval time.Duration) *RemoteSDK {
	if interval <= 0 {
		interval = time.Second
	}
	return &RemoteSDK{
		api:      api,
		interval: interval,
		events:   make(chan Event, 16),
		stop:     make(chan struct{}),
	}
}

// RemoteFactory returns an SDKFactory that builds Web API clients per token.
func RemoteFactory(baseURL string, interval time.Duration, httpClient *http.Client) SDKFactory {
	return func(token string) SDK {
		client := spotify.New(baseURL, token)
		if httpClient != nil {
			client.SetHTTPClient(httpClient)
		}
		return NewRemoteSDK(client, interval)
	}
}

func (r *RemoteSDK) Events() <-chan Event {
	return r.events
}

// Connect picks the active device (or the first one) and starts the watcher.
func (r *RemoteSDK) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.connected || r.closed {
		r.mu.Unlock()
		return nil
	}
	r.connected = true
	r.mu.Unlock()

	devices, err := r.api.Devices(ctx)
	if err != nil {
		r.emit(Event{Type: r.errorKind(err), Message: err.Error()})
		return fmt.Errorf("list devices: %w", err)
	}

	var chosen *spotify.Device
	for i := range devices {
		if devices[i].IsRestricted {
			continue
		}
		if chosen == nil || devices[i].IsActive {
			chosen = &devices[i]
		}
		if devices[i].IsActive {
			break
		}
	}
	if chosen == nil {
		r.emit(Event{Type: EventInitializationError, Message: "no available playback device"})
		return ErrNoDevice
	}

	r.mu.Lock()
	r.deviceID = chosen.ID
	r.mu.Unlock()
	r.emit(Event{Type: EventReady, DeviceID: chosen.ID})

	r.wg.Add(1)
	go r.watch()
	return nil
}

func (r *RemoteSDK) errorKind(err error) EventType {
	switch {
	case spotify.IsStatus(err, http.StatusUnauthorized):
		return EventAuthenticationError
	case spotify.IsStatus(err, http.StatusForbidden):
		return EventAccountError
	default:
		return EventInitializationError
	}
}

func (r *RemoteSDK) watch() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.stop
		cancel()
	}()

	r.refresh(ctx)
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if !r.refresh(ctx) {
				return
			}
		}
	}
}

// refresh emits state_changed when anything but the position moved. It
// returns false once the token was rejected.
func (r *RemoteSDK) refresh(ctx context.Context) bool {
	state, err := r.api.PlayerState(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return false
		}
		if spotify.IsStatus(err, http.StatusUnauthorized) {
			r.forget()
			r.emit(Event{Type: EventAuthenticationError, Message: err.Error()})
			return false
		}
		logger.Debug("[RemoteSDK] 获取播放状态失败", logger.ErrorField(err))
		return true
	}
	if state == nil {
		r.forget()
		return true
	}

	snapshot := state.Snapshot()
	r.mu.Lock()
	changed := !sameTrackState(r.last, snapshot)
	r.last = snapshot
	r.fetchedAt = time.Now()
	r.mu.Unlock()
	if changed {
		r.emit(Event{Type: EventStateChanged, State: snapshot})
	}
	return true
}

func (r *RemoteSDK) forget() {
	r.mu.Lock()
	r.last = nil
	r.mu.Unlock()
}

func sameTrackState(a, b *model.PlaybackState) bool {
	if a == nil || b == nil {
		return a == b
	}
	x, y := *a, *b
	x.PositionMs, y.PositionMs = 0, 0
	return x.Equal(&y)
}

func (r *RemoteSDK) emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
	case <-r.stop:
	}
}

// Disconnect stops the watcher and closes the event channel.
func (r *RemoteSDK) Disconnect() {
	r.stopOnce.Do(func() {
		close(r.stop)
		r.wg.Wait()

		r.mu.Lock()
		r.closed = true
		r.last = nil
		close(r.events)
		r.mu.Unlock()
	})
}

func (r *RemoteSDK) device() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deviceID
}

// CurrentState answers from the watcher's last snapshot, advanced by the time
// since it was fetched. Without a snapshot it asks the API.
func (r *RemoteSDK) CurrentState(ctx context.Context) (*model.PlaybackState, error) {
	r.mu.Lock()
	last, fetchedAt := r.last, r.fetchedAt
	r.mu.Unlock()
	if last != nil {
		return advance(last, time.Since(fetchedAt)), nil
	}

	state, err := r.api.PlayerState(ctx)
	if err != nil || state == nil {
		return nil, err
	}
	return state.Snapshot(), nil
}

// advance returns a copy of s with the position moved forward while playing.
func advance(s *model.PlaybackState, elapsed time.Duration) *model.PlaybackState {
	out := *s
	if !out.Paused {
		out.PositionMs += int(elapsed / time.Millisecond)
		if out.DurationMs > 0 && out.PositionMs > out.DurationMs {
			out.PositionMs = out.DurationMs
		}
	}
	return &out
}

// TogglePlay reads the live state so a stale local snapshot cannot invert it.
func (r *RemoteSDK) TogglePlay(ctx context.Context) error {
	state, err := r.api.PlayerState(ctx)
	if err != nil {
		return err
	}
	if state != nil && state.IsPlaying {
		return r.api.Pause(ctx, r.device())
	}
	return r.api.Resume(ctx, r.device())
}

func (r *RemoteSDK) NextTrack(ctx context.Context) error {
	return r.api.Next(ctx, r.device())
}

func (r *RemoteSDK) PreviousTrack(ctx context.Context) error {
	return r.api.Previous(ctx, r.device())
}

func (r *RemoteSDK) Seek(ctx context.Context, positionMs int) error {
	return r.api.Seek(ctx, positionMs, r.device())
}

func (r *RemoteSDK) SetVolume(ctx context.Context, fraction float64) error {
	percent := int(math.Round(fraction * 100))
	return r.api.SetVolume(ctx, percent, r.device())
}
