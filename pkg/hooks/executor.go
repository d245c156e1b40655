package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vanderheijden86/cadview/pkg/debug"
)

// maxSummaryStderr caps the stderr shown per failed hook in Summary.
const maxSummaryStderr = 200

// HookResult is the outcome of one hook run.
type HookResult struct {
	Hook     Hook
	Phase    HookPhase
	Success  bool
	Stdout   string
	Stderr   string
	Duration time.Duration
	Error    error
}

// Executor runs the hooks of one export.
type Executor struct {
	config  *Config
	export  ExportContext
	results []HookResult
}

// NewExecutor returns an executor for cfg; a nil cfg runs nothing.
func NewExecutor(cfg *Config, export ExportContext) *Executor {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Executor{config: cfg, export: export}
}

// RunPreExport runs the pre-export hooks in order and stops at the first
// failing hook whose policy is "fail".
func (e *Executor) RunPreExport(ctx context.Context) error {
	for _, h := range e.config.Hooks.PreExport {
		res := e.run(ctx, h, PreExport)
		if !res.Success && h.OnError != OnErrorContinue {
			return fmt.Errorf("pre-export hook %q failed: %w", h.Name, res.Error)
		}
	}
	return nil
}

// RunPostExport runs every post-export hook. It returns the failures of
// hooks whose policy is "fail".
func (e *Executor) RunPostExport(ctx context.Context) error {
	var errs []error
	for _, h := range e.config.Hooks.PostExport {
		res := e.run(ctx, h, PostExport)
		if !res.Success && h.OnError == OnErrorFail {
			errs = append(errs, fmt.Errorf("post-export hook %q failed: %w", h.Name, res.Error))
		}
	}
	return errors.Join(errs...)
}

func (e *Executor) run(ctx context.Context, h Hook, phase HookPhase) HookResult {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", h.Command)
	cmd.WaitDelay = time.Second
	cmd.Env = append(os.Environ(), e.export.ToEnv()...)
	for k, v := range h.Env {
		cmd.Env = append(cmd.Env, k+"="+os.ExpandEnv(v))
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := HookResult{
		Hook:     h,
		Phase:    phase,
		Success:  err == nil,
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		res.Error = err
	}
	e.results = append(e.results, res)

	debug.Logger().Debug("hook finished",
		zap.String("name", h.Name),
		zap.String("phase", string(phase)),
		zap.Bool("ok", res.Success),
		zap.Duration("elapsed", res.Duration),
		zap.Error(err))
	return res
}

// Results returns the outcomes in run order.
func (e *Executor) Results() []HookResult {
	return e.results
}

// Summary describes the runs for the user; empty when nothing ran.
func (e *Executor) Summary() string {
	if len(e.results) == 0 {
		return ""
	}
	ok, failed := 0, 0
	var b strings.Builder
	for _, r := range e.results {
		if r.Success {
			ok++
			continue
		}
		failed++
		fmt.Fprintf(&b, "\n  %s (%s): %v", r.Hook.Name, r.Phase, r.Error)
		if r.Stderr != "" {
			stderr := r.Stderr
			if len(stderr) > maxSummaryStderr {
				stderr = stderr[:maxSummaryStderr] + "..."
			}
			fmt.Fprintf(&b, "\n    %s", stderr)
		}
	}
	return fmt.Sprintf("Hooks: %d succeeded, %d failed", ok, failed) + b.String()
}

// Run loads the hooks in dir and returns an executor, or nil when hooks are
// disabled or none are configured.
func Run(dir string, export ExportContext, disabled bool) (*Executor, error) {
	if disabled {
		return nil, nil
	}
	l := NewLoader(WithDir(dir))
	if err := l.Load(); err != nil {
		return nil, err
	}
	for _, w := range l.Warnings() {
		debug.Logger().Warn("hooks", zap.String("warning", w))
	}
	if !l.HasHooks() {
		return nil, nil
	}
	return NewExecutor(l.Config(), export), nil
}
