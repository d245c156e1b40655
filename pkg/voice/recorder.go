package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/vanderheijden86/cadview/pkg/debug"
)

// FilePlaceholder in recorder arguments is replaced by the output path. When
// no argument contains it, the path is appended.
const FilePlaceholder = "{file}"

// DefaultCommand and DefaultArgs record 16 kHz mono WAV with ALSA.
var (
	DefaultCommand = "arecord"
	DefaultArgs    = []string{"-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "wav", FilePlaceholder}
)

// ErrRecorderUnavailable means the recorder command could not be started.
var ErrRecorderUnavailable = errors.New("voice: recorder unavailable")

// stopGrace is how long a recorder gets to finish the file after an
// interrupt before it is killed.
const stopGrace = 3 * time.Second

// ExecRecorder records by running an external command (arecord, sox, ffmpeg)
// that writes a WAV file until interrupted.
type ExecRecorder struct {
	Command string
	Args    []string
}

// NewExecRecorder returns a recorder for command; empty values select the
// arecord defaults.
func NewExecRecorder(command string, args []string) *ExecRecorder {
	if command == "" {
		command = DefaultCommand
		if len(args) == 0 {
			args = DefaultArgs
		}
	}
	return &ExecRecorder{Command: command, Args: args}
}

// Start implements Recorder.
func (r *ExecRecorder) Start(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bin, err := exec.LookPath(r.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecorderUnavailable, err)
	}

	f, err := os.CreateTemp("", "cadview-voice-*.wav")
	if err != nil {
		return nil, fmt.Errorf("creating audio file: %w", err)
	}
	path := f.Name()
	f.Close()

	cmd := exec.Command(bin, expandArgs(r.Args, path)...)
	if err := cmd.Start(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: %v", ErrRecorderUnavailable, err)
	}
	debug.Log("voice: started %s (pid %d) -> %s", r.Command, cmd.Process.Pid, path)

	c := &execCapture{cmd: cmd, path: path, done: make(chan struct{})}
	go func() {
		c.waitErr = cmd.Wait()
		close(c.done)
	}()
	return c, nil
}

func expandArgs(args []string, path string) []string {
	out := make([]string, 0, len(args)+1)
	replaced := false
	for _, a := range args {
		if strings.Contains(a, FilePlaceholder) {
			a = strings.ReplaceAll(a, FilePlaceholder, path)
			replaced = true
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, path)
	}
	return out
}

type execCapture struct {
	cmd     *exec.Cmd
	path    string
	done    chan struct{}
	waitErr error

	stopOnce sync.Once
}

// terminate interrupts the recorder, then kills it if it does not exit.
func (c *execCapture) terminate() {
	c.stopOnce.Do(func() {
		select {
		case <-c.done:
			return
		default:
		}
		if err := c.cmd.Process.Signal(os.Interrupt); err != nil {
			_ = c.cmd.Process.Kill()
		}
		select {
		case <-c.done:
		case <-time.After(stopGrace):
			_ = c.cmd.Process.Kill()
			<-c.done
		}
	})
}

func (c *execCapture) Stop() ([]byte, error) {
	select {
	case <-c.done:
		// Exited on its own before we asked: report its failure.
		if c.waitErr != nil {
			return nil, fmt.Errorf("recorder exited: %w", c.waitErr)
		}
	default:
	}
	c.terminate()
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	return data, nil
}

func (c *execCapture) Close() error {
	c.terminate()
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
