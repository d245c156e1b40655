// Package voice records a spoken command and submits it to the backend.
//
// A Panel is a small state machine, Idle -> Recording -> Dispatching -> Idle,
// that allows one recording at a time and releases the capture device exactly
// once per recording, whatever path the attempt takes.
package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vanderheijden86/cadview/pkg/debug"
	"github.com/vanderheijden86/cadview/pkg/model"

	"go.uber.org/zap"
)

// AudioFileName is the name the recording is uploaded under.
const AudioFileName = "command.wav"

// ErrorTranscription is the transcription of the synthetic result produced
// when a command could not be processed.
const ErrorTranscription = "Error"

var (
	// ErrBusy is returned by Start unless the panel is idle.
	ErrBusy = errors.New("voice: recording or dispatch already in progress")
	// ErrNotRecording is returned by StopAndDispatch when nothing is recording.
	ErrNotRecording = errors.New("voice: not recording")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("voice: panel closed")
	// ErrNoAudio is returned when a recording produced no data.
	ErrNoAudio = errors.New("voice: no audio captured")
)

// State is the panel lifecycle.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateDispatching:
		return "dispatching"
	default:
		return "unknown"
	}
}

// Capture is one active recording.
type Capture interface {
	// Stop ends the recording and returns the audio file contents.
	Stop() ([]byte, error)
	// Close releases the capture device. It may be called after Stop.
	Close() error
}

// Recorder opens the capture device.
type Recorder interface {
	Start(ctx context.Context) (Capture, error)
}

// Dispatcher submits audio to the command pipeline. The backend client
// implements it.
type Dispatcher interface {
	Voice(ctx context.Context, filename string, audio io.Reader) (*model.VoiceResult, error)
}

// Panel coordinates recording and dispatch. It is safe for concurrent use.
type Panel struct {
	rec  Recorder
	disp Dispatcher

	mu      sync.Mutex
	state   State
	closed  bool
	capture Capture
	release func()
}

// NewPanel returns an idle panel.
func NewPanel(rec Recorder, disp Dispatcher) *Panel {
	return &Panel{rec: rec, disp: disp}
}

// State returns the current state.
func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// CanRecord reports whether Start would be accepted; the UI disables the
// record control otherwise.
func (p *Panel) CanRecord() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateIdle && !p.closed
}

// Start opens the capture device. A failure (missing recorder, permission
// denied) ends this attempt only; the panel stays idle.
func (p *Panel) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.state != StateIdle {
		p.mu.Unlock()
		return ErrBusy
	}
	// Hold the Recording slot while the device opens so a second Start
	// cannot race in.
	p.state = StateRecording
	p.mu.Unlock()

	capture, err := p.rec.Start(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.state = StateIdle
		return fmt.Errorf("starting recorder: %w", err)
	}
	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := capture.Close(); err != nil {
				debug.Logger().Warn("releasing capture", zap.Error(err))
			}
		})
	}
	if p.closed {
		release()
		p.state = StateIdle
		return ErrClosed
	}
	p.capture = capture
	p.release = release
	debug.Log("voice: recording")
	return nil
}

// StopAndDispatch stops the recording, uploads it once, and returns the
// backend's answer. On any failure the returned result is the synthetic
// {transcription: "Error", response: <message>} the transcript pane shows,
// and err carries the cause. The capture is released before returning.
func (p *Panel) StopAndDispatch(ctx context.Context) (*model.VoiceResult, error) {
	p.mu.Lock()
	if p.state != StateRecording || p.capture == nil {
		p.mu.Unlock()
		return nil, ErrNotRecording
	}
	p.state = StateDispatching
	capture, release := p.capture, p.release
	p.capture, p.release = nil, nil
	p.mu.Unlock()

	defer func() {
		release()
		p.mu.Lock()
		p.state = StateIdle
		p.mu.Unlock()
	}()

	audio, err := capture.Stop()
	if err == nil && len(audio) == 0 {
		err = ErrNoAudio
	}
	if err != nil {
		err = fmt.Errorf("stopping recorder: %w", err)
		return errorResult(err), err
	}

	res, err := p.disp.Voice(ctx, AudioFileName, bytes.NewReader(audio))
	if err != nil {
		err = fmt.Errorf("dispatching voice command: %w", err)
		return errorResult(err), err
	}
	debug.Logger().Debug("voice command dispatched",
		zap.Int("audio_bytes", len(audio)),
		zap.Bool("modified", res.Modified))
	return res, nil
}

// Cancel abandons an active recording without dispatching it.
func (p *Panel) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRecording || p.release == nil {
		return
	}
	p.release()
	p.capture, p.release = nil, nil
	p.state = StateIdle
}

// Close tears the panel down, releasing any capture it holds. An in-flight
// dispatch finishes, but its capture is not released twice.
func (p *Panel) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.release != nil {
		p.release()
		p.capture, p.release = nil, nil
		p.state = StateIdle
	}
}

func errorResult(err error) *model.VoiceResult {
	return &model.VoiceResult{
		Transcription: ErrorTranscription,
		Response:      err.Error(),
		Modified:      false,
	}
}
