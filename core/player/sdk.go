// Package player drives one user's remote playback session: entitlement
// check, SDK event reduction, position polling and transport commands.
package player

import (
	"context"

	"musaic/model"
)

// EventType names an SDK notification.
type EventType string

const (
	EventInitializationError EventType = "initialization_error"
	EventAuthenticationError EventType = "authentication_error"
	EventAccountError        EventType = "account_error"
	EventPlaybackError       EventType = "playback_error"
	EventReady               EventType = "ready"
	EventNotReady            EventType = "not_ready"
	EventStateChanged        EventType = "state_changed"
)

// Event is one SDK notification. DeviceID is set for ready/not_ready, State
// for state_changed (nil when the SDK lost the playback context) and Message
// for the error kinds.
type Event struct {
	Type     EventType
	DeviceID string
	State    *model.PlaybackState
	Message  string
}

// SDK is the real-time playback handle a widget owns.
type SDK interface {
	Connect(ctx context.Context) error
	Disconnect()
	// Events is closed by Disconnect.
	Events() <-chan Event
	CurrentState(ctx context.Context) (*model.PlaybackState, error)
	TogglePlay(ctx context.Context) error
	NextTrack(ctx context.Context) error
	PreviousTrack(ctx context.Context) error
	Seek(ctx context.Context, positionMs int) error
	// SetVolume takes a fraction in [0,1].
	SetVolume(ctx context.Context, fraction float64) error
}

// SDKFactory builds an SDK scoped to one bearer token.
type SDKFactory func(token string) SDK

// EntitlementChecker reports whether the account tier allows SDK playback.
type EntitlementChecker interface {
	CheckPremium(ctx context.Context) (bool, error)
}

// Playback starts URIs on a device over the REST API.
type Playback interface {
	Play(ctx context.Context, deviceID string, uris []string) error
}

// Observer receives widget output. Callbacks run on widget goroutines and
// must not call Close.
type Observer interface {
	OnView(View)
	OnAlert(message string)
}

// ObserverFuncs adapts two funcs to Observer. Either may be nil.
type ObserverFuncs struct {
	View  func(View)
	Alert func(string)
}

func (o ObserverFuncs) OnView(v View) {
	if o.View != nil {
		o.View(v)
	}
}

func (o ObserverFuncs) OnAlert(msg string) {
	if o.Alert != nil {
		o.Alert(msg)
	}
}
