package player

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"musaic/logger"
	"musaic/model"
)

// DefaultTrackURI is played by StartPlayback.
const DefaultTrackURI = "spotify:track:3AJwUDP919kvQ9QcozQPxg"

// DefaultCoverURL is shown when the current track has no album art.
const DefaultCoverURL = "/assets/musaic.svg"

// User-visible alerts.
const (
	AlertNotPremium      = "You need a Spotify Premium account to use the Web Playback SDK."
	AlertVerifyFailed    = "Failed to verify Spotify account type."
	AlertInitFailed      = "Failed to initialize Spotify Player."
	AlertAuthFailed      = "Authentication failed. Please log in again."
	AlertAccountError    = "There was an issue with your Spotify account."
	AlertPlaybackError   = "Playback error occurred."
	AlertNoDevice        = "No device ID available. Please ensure the Spotify player is ready."
	AlertPlayFailed      = "Failed to play track."
	AlertStartFailed     = "Failed to start playback."
	AlertToggleFailed    = "Failed to toggle playback."
	AlertNextFailed      = "Failed to skip to next track."
	AlertPreviousFailed  = "Failed to skip to previous track."
	AlertVolumeFailed    = "Failed to change volume."
	AlertSeekFailed      = "Failed to seek."
	noTrackPlaying       = "No track playing"
	unknownArtist        = "Unknown artist"
	defaultVolumePercent = 50
)

var (
	ErrNotInitialized = errors.New("spotify player is not initialized")
	ErrNoDevice       = errors.New("no device id available")
	ErrNotEligible    = errors.New("account is not eligible for playback")
)

// Status is the widget lifecycle state.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusChecking      Status = "checking-entitlement"
	StatusConnected     Status = "ready"
	StatusDeviceReady   Status = "ready-device"
	StatusPlaying       Status = "playing"
	StatusPaused        Status = "paused"
)

// Options configures a widget.
type Options struct {
	Token        string
	Entitlement  EntitlementChecker
	NewSDK       SDKFactory
	Playback     Playback
	PollInterval time.Duration
	Observer     Observer
}

// Widget reduces SDK events into the latest playback snapshot plus a
// locally tracked position.
type Widget struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	status   Status
	sdk      SDK
	deviceID string
	state    *model.PlaybackState
	position int
	volume   int
	pollStop chan struct{}
	closed   bool

	notifyMu sync.Mutex // serialises observer calls
}

// NewWidget creates an uninitialized widget.
func NewWidget(opts Options) *Widget {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Observer == nil {
		opts.Observer = ObserverFuncs{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Widget{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		status: StatusUninitialized,
		volume: defaultVolumePercent,
	}
}

// Start verifies entitlement and, when eligible, creates and connects the
// single SDK instance. Calling Start again after success is a no-op.
func (w *Widget) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.closed || w.status != StatusUninitialized {
		w.mu.Unlock()
		return nil
	}
	w.status = StatusChecking
	w.mu.Unlock()
	w.publish()

	eligible, err := w.opts.Entitlement.CheckPremium(ctx)
	if err != nil {
		logger.Error("[Player] 检查账户类型失败", logger.ErrorField(err))
		w.setStatus(StatusUninitialized)
		w.alert(AlertVerifyFailed)
		return fmt.Errorf("check entitlement: %w", err)
	}
	if !eligible {
		w.setStatus(StatusUninitialized)
		w.alert(AlertNotPremium)
		return ErrNotEligible
	}

	sdk := w.opts.NewSDK(w.opts.Token)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		sdk.Disconnect()
		return nil
	}
	w.sdk = sdk
	w.status = StatusConnected
	w.wg.Add(1)
	w.mu.Unlock()

	go w.consume(sdk.Events())
	w.publish()

	// 连接失败时 SDK 会推送 initialization_error，这里只记录日志
	if err := sdk.Connect(ctx); err != nil {
		logger.Warn("[Player] SDK 连接失败", logger.ErrorField(err))
	}
	return nil
}

func (w *Widget) consume(events <-chan Event) {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handle(ev)
		}
	}
}

func (w *Widget) handle(ev Event) {
	switch ev.Type {
	case EventInitializationError:
		logger.Error("[Player] Initialization Error", logger.String("message", ev.Message))
		w.alert(AlertInitFailed)
	case EventAuthenticationError:
		logger.Error("[Player] Authentication Error", logger.String("message", ev.Message))
		w.alert(AlertAuthFailed)
	case EventAccountError:
		logger.Error("[Player] Account Error", logger.String("message", ev.Message))
		w.alert(AlertAccountError)
	case EventPlaybackError:
		logger.Error("[Player] Playback Error", logger.String("message", ev.Message))
		w.alert(AlertPlaybackError)
	case EventReady:
		logger.Info("[Player] Ready with Device ID", logger.String("device_id", ev.DeviceID))
		w.mu.Lock()
		w.deviceID = ev.DeviceID
		if w.status == StatusConnected {
			w.status = StatusDeviceReady
		}
		w.mu.Unlock()
		w.publish()
	case EventNotReady:
		logger.Info("[Player] Device ID has gone offline", logger.String("device_id", ev.DeviceID))
	case EventStateChanged:
		if ev.State == nil {
			return
		}
		w.mu.Lock()
		w.state = ev.State
		w.position = ev.State.PositionMs
		if ev.State.Paused {
			w.status = StatusPaused
		} else {
			w.status = StatusPlaying
		}
		w.syncPollingLocked()
		w.mu.Unlock()
		w.publish()
	default:
		logger.Debug("[Player] 忽略未知事件", logger.String("type", string(ev.Type)))
	}
}

// syncPollingLocked runs the position ticker exactly while an unpaused
// snapshot is held.
func (w *Widget) syncPollingLocked() {
	playing := !w.closed && w.state != nil && !w.state.Paused
	switch {
	case playing && w.pollStop == nil:
		w.pollStop = make(chan struct{})
		w.wg.Add(1)
		go w.poll(w.sdk, w.pollStop)
	case !playing && w.pollStop != nil:
		close(w.pollStop)
		w.pollStop = nil
	}
}

func (w *Widget) poll(sdk SDK, stop chan struct{}) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		}

		state, err := sdk.CurrentState(w.ctx)
		if err != nil {
			logger.Debug("[Player] 获取播放进度失败", logger.ErrorField(err))
			continue
		}
		if state == nil {
			continue
		}

		w.mu.Lock()
		if w.pollStop != stop {
			w.mu.Unlock()
			return
		}
		w.position = state.PositionMs
		w.mu.Unlock()
		w.publish()
	}
}

// TogglePlay switches between play and pause.
func (w *Widget) TogglePlay(ctx context.Context) error {
	return w.transport("toggle", AlertToggleFailed, func(sdk SDK) error { return sdk.TogglePlay(ctx) })
}

// Next skips to the next track.
func (w *Widget) Next(ctx context.Context) error {
	return w.transport("next", AlertNextFailed, func(sdk SDK) error { return sdk.NextTrack(ctx) })
}

// Previous skips to the previous track.
func (w *Widget) Previous(ctx context.Context) error {
	return w.transport("previous", AlertPreviousFailed, func(sdk SDK) error { return sdk.PreviousTrack(ctx) })
}

// Seek moves the current track to positionMs.
func (w *Widget) Seek(ctx context.Context, positionMs int) error {
	if positionMs < 0 {
		positionMs = 0
	}
	return w.transport("seek", AlertSeekFailed, func(sdk SDK) error { return sdk.Seek(ctx, positionMs) })
}

// SetVolume sets the volume from a 0-100 percentage. The stored percent only
// changes once the SDK accepted it.
func (w *Widget) SetVolume(ctx context.Context, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	err := w.transport("volume", AlertVolumeFailed, func(sdk SDK) error {
		return sdk.SetVolume(ctx, float64(percent)/100)
	})
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.volume = percent
	w.mu.Unlock()
	w.publish()
	return nil
}

func (w *Widget) transport(action, alert string, call func(SDK) error) error {
	w.mu.Lock()
	sdk, deviceID := w.sdk, w.deviceID
	w.mu.Unlock()

	if sdk == nil {
		logger.Warn("[Player] Spotify Player is not initialized", logger.String("action", action))
		return ErrNotInitialized
	}
	if deviceID == "" {
		w.alert(AlertNoDevice)
		return ErrNoDevice
	}
	if err := call(sdk); err != nil {
		logger.Error("[Player] 播放控制失败", logger.String("action", action), logger.ErrorField(err))
		w.alert(alert)
		return fmt.Errorf("%s: %w", action, err)
	}
	return nil
}

// PlayTrack starts trackURI on the ready device.
func (w *Widget) PlayTrack(ctx context.Context, trackURI string) error {
	return w.play(ctx, trackURI, AlertPlayFailed)
}

// StartPlayback starts the default track on the ready device.
func (w *Widget) StartPlayback(ctx context.Context) error {
	return w.play(ctx, DefaultTrackURI, AlertStartFailed)
}

func (w *Widget) play(ctx context.Context, uri, alert string) error {
	deviceID := w.DeviceID()
	if deviceID == "" {
		logger.Warn("[Player] No device ID available.")
		w.alert(AlertNoDevice)
		return ErrNoDevice
	}
	if err := w.opts.Playback.Play(ctx, deviceID, []string{uri}); err != nil {
		logger.Error("[Player] 开始播放失败", logger.String("uri", uri), logger.ErrorField(err))
		w.alert(alert)
		return fmt.Errorf("play %s: %w", uri, err)
	}
	return nil
}

// Status returns the lifecycle state.
func (w *Widget) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// DeviceID returns the captured device, or "" before ready.
func (w *Widget) DeviceID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deviceID
}

// Snapshot renders the current view.
func (w *Widget) Snapshot() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewLocked()
}

// Close stops polling and disconnects the SDK. Observers are not called
// after Close returns. Close must not be called from an observer callback.
func (w *Widget) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.pollStop != nil {
		close(w.pollStop)
		w.pollStop = nil
	}
	sdk := w.sdk
	w.mu.Unlock()

	w.cancel()
	if sdk != nil {
		sdk.Disconnect()
	}
	w.wg.Wait()

	w.notifyMu.Lock()
	w.notifyMu.Unlock()
}

func (w *Widget) setStatus(s Status) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
	w.publish()
}

func (w *Widget) publish() {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	view := w.viewLocked()
	w.mu.Unlock()
	w.opts.Observer.OnView(view)
}

func (w *Widget) alert(msg string) {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()

	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if !closed {
		w.opts.Observer.OnAlert(msg)
	}
}

// View is the rendered player.
type View struct {
	Status      Status               `json:"status"`
	State       *model.PlaybackState `json:"state,omitempty"`
	Paused      bool                 `json:"paused"`
	PositionMs  int                  `json:"positionMs"`
	DurationMs  int                  `json:"durationMs"`
	Position    string               `json:"position"`
	Duration    string               `json:"duration"`
	Volume      int                  `json:"volume"`
	DeviceID    string               `json:"deviceId,omitempty"`
	TrackName   string               `json:"trackName"`
	Artists     string               `json:"artists"`
	CoverURL    string               `json:"coverUrl"`
	CanStart    bool                 `json:"canStart"`
	Initialized bool                 `json:"initialized"`
}

func (w *Widget) viewLocked() View {
	v := View{
		Status:      w.status,
		State:       w.state,
		Paused:      true,
		PositionMs:  w.position,
		Position:    FormatTime(w.position),
		Duration:    FormatTime(0),
		Volume:      w.volume,
		DeviceID:    w.deviceID,
		TrackName:   noTrackPlaying,
		Artists:     unknownArtist,
		CoverURL:    DefaultCoverURL,
		CanStart:    w.state == nil,
		Initialized: w.sdk != nil,
	}
	if w.state == nil {
		return v
	}

	v.Paused = w.state.Paused
	v.DurationMs = w.state.DurationMs
	v.Duration = FormatTime(w.state.DurationMs)
	if t := w.state.CurrentTrack; t != nil {
		if t.Name != "" {
			v.TrackName = t.Name
		}
		if len(t.Artists) > 0 {
			v.Artists = strings.Join(t.Artists, ", ")
		}
		if t.AlbumArtURL != "" {
			v.CoverURL = t.AlbumArtURL
		}
	}
	return v
}

// FormatTime renders milliseconds as m:ss.
func FormatTime(ms int) string {
	if ms < 0 {
		ms = 0
	}
	seconds := ms / 1000
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
