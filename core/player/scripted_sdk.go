package player

import (
	"context"
	"sync"

	"musaic/model"
)

// ScriptedSDK is an in-memory SDK for callers that have no real device,
// such as tests of the widget and of the player socket. It replays a fixed
// event sequence on Connect and records every command.
type ScriptedSDK struct {
	Script []Event
	// States is consumed by CurrentState; the last one repeats.
	States []*model.PlaybackState
	// Fail maps a command name to the error it returns.
	Fail map[string]error

	mu        sync.Mutex
	events    chan Event
	done      chan struct{}
	sending   sync.WaitGroup
	calls     []string
	volume    float64
	closeOnce sync.Once
	closed    bool
}

// NewScriptedSDK creates a double that will replay script.
func NewScriptedSDK(script ...Event) *ScriptedSDK {
	return &ScriptedSDK{
		Script: script,
		events: make(chan Event, len(script)+16),
		done:   make(chan struct{}),
	}
}

func (s *ScriptedSDK) record(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
	return s.Fail[name]
}

// Calls returns recorded command names in order.
func (s *ScriptedSDK) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Volume returns the last accepted volume fraction.
func (s *ScriptedSDK) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *ScriptedSDK) Connect(ctx context.Context) error {
	if err := s.record("connect"); err != nil {
		return err
	}
	for _, ev := range s.Script {
		s.Emit(ev)
	}
	return nil
}

// Emit pushes one more event. It blocks while the buffer is full and is
// dropped once Disconnect starts.
func (s *ScriptedSDK) Emit(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.sending.Add(1)
	s.mu.Unlock()
	defer s.sending.Done()

	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *ScriptedSDK) Disconnect() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.calls = append(s.calls, "disconnect")
		s.closed = true
		s.mu.Unlock()

		// 先唤醒阻塞的 Emit，再关闭事件通道
		close(s.done)
		s.sending.Wait()
		close(s.events)
	})
}

func (s *ScriptedSDK) Events() <-chan Event {
	return s.events
}

func (s *ScriptedSDK) CurrentState(ctx context.Context) (*model.PlaybackState, error) {
	if err := s.record("current_state"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.States) == 0 {
		return nil, nil
	}
	state := s.States[0]
	if len(s.States) > 1 {
		s.States = s.States[1:]
	}
	return state, nil
}

func (s *ScriptedSDK) TogglePlay(ctx context.Context) error { return s.record("toggle") }

func (s *ScriptedSDK) NextTrack(ctx context.Context) error { return s.record("next") }

func (s *ScriptedSDK) PreviousTrack(ctx context.Context) error { return s.record("previous") }

func (s *ScriptedSDK) Seek(ctx context.Context, positionMs int) error { return s.record("seek") }

func (s *ScriptedSDK) SetVolume(ctx context.Context, fraction float64) error {
	if err := s.record("volume"); err != nil {
		return err
	}
	s.mu.Lock()
	s.volume = fraction
	s.mu.Unlock()
	return nil
}
