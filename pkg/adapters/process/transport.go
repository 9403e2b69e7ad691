package process

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/aretw0/quill/internal/logging"
	"github.com/aretw0/quill/pkg/domain"
	"github.com/aretw0/quill/pkg/ports"
	"github.com/google/uuid"
)

// ExitErrorName is the error name reported when a kernel process exits non-zero.
const ExitErrorName = "ProcessExit"

// maxLine bounds a single stdout line, which for ProtocolJSONL may carry
// a whole rich output.
const maxLine = 16 << 20

type kernelSession struct {
	config KernelConfig
	count  int
}

// Transport implements ports.KernelTransport by running one interpreter
// process per dispatch. It follows a Strict Registry pattern: only
// registered kernels can be started.
type Transport struct {
	mu       sync.Mutex
	registry map[string]KernelConfig
	sessions map[string]*kernelSession
	baseDir  string
	logger   *slog.Logger
}

// Option configures the transport.
type Option func(*Transport)

// WithRegistry populates the allow-list from a loaded config.
func WithRegistry(kernels map[string]KernelConfig) Option {
	return func(t *Transport) {
		for _, k := range kernels {
			t.Register(k)
		}
	}
}

// WithBaseDir sets the working directory for kernel processes.
func WithBaseDir(dir string) Option {
	return func(t *Transport) {
		t.baseDir = dir
	}
}

// WithLogger configures a logger for the transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport creates a new process transport.
func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		registry: make(map[string]KernelConfig),
		sessions: make(map[string]*kernelSession),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register adds a trusted kernel to the allow-list.
func (t *Transport) Register(cfg KernelConfig) {
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolText
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registry[cfg.Name] = cfg
}

// Kernels returns the registered kernel configs.
func (t *Transport) Kernels() []KernelConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]KernelConfig, 0, len(t.registry))
	for _, k := range t.registry {
		out = append(out, k)
	}
	return out
}

// StartSession implements ports.KernelTransport. It checks that the
// interpreter exists; no process stays alive between dispatches.
func (t *Transport) StartSession(ctx context.Context, spec ports.KernelSpec) (string, error) {
	t.mu.Lock()
	cfg, ok := t.registry[spec.Name]
	t.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("kernel not registered: %s", spec.Name)
	}
	if _, err := exec.LookPath(cfg.Command); err != nil {
		return "", fmt.Errorf("kernel %s: %w", spec.Name, err)
	}

	id := uuid.NewString()
	t.mu.Lock()
	t.sessions[id] = &kernelSession{config: cfg}
	t.mu.Unlock()

	t.logger.Debug("Process kernel session started", "session_id", id, "kernel", cfg.Name)
	return id, nil
}

// ShutdownSession implements ports.SessionCloser.
func (t *Transport) ShutdownSession(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
	return nil
}

// Dispatch implements ports.KernelTransport.
func (t *Transport) Dispatch(ctx context.Context, sessionID, code string) (ports.EventStream, error) {
	t.mu.Lock()
	sess, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	sess.count++
	count := sess.count
	cfg := sess.config
	t.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, cfg.Command, cfg.Args...)
	cmd.Dir = t.baseDir
	cmd.Stdin = strings.NewReader(code)

	env := []string{
		"QUILL_SESSION_ID=" + sessionID,
		"QUILL_EXECUTION_COUNT=" + strconv.Itoa(count),
	}
	for k, v := range cfg.Environment {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Environ(), env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start kernel %s: %w", cfg.Name, err)
	}

	s := newStream(cancel)
	go t.run(runCtx, cmd, cfg.Protocol, stdout, stderr, s)
	return s, nil
}

func (t *Transport) run(ctx context.Context, cmd *exec.Cmd, protocol Protocol, stdout, stderr io.Reader, s *stream) {
	var (
		wg        sync.WaitGroup
		failMu    sync.Mutex
		streamErr error
	)
	fail := func(err error) {
		failMu.Lock()
		defer failMu.Unlock()
		if streamErr == nil {
			streamErr = err
			s.cancel()
		}
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		if protocol == ProtocolJSONL {
			t.readEvents(stdout, s, fail)
		} else {
			t.readStream(stdout, domain.Stdout, s)
		}
	}()
	go func() {
		defer wg.Done()
		t.readStream(stderr, domain.Stderr, s)
	}()
	wg.Wait()

	waitErr := cmd.Wait()

	failMu.Lock()
	err := streamErr
	failMu.Unlock()
	if err != nil {
		s.finish(err)
		return
	}
	if ctx.Err() != nil {
		s.finish(ctx.Err())
		return
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		s.send(domain.ErrorEvent{
			Name:    ExitErrorName,
			Message: fmt.Sprintf("exit status %d", exitErr.ExitCode()),
		})
		s.finish(nil)
		return
	}
	s.finish(waitErr)
}

// readStream forwards text chunks line by line, preserving newlines.
func (t *Transport) readStream(r io.Reader, name domain.StreamName, s *stream) {
	br := bufio.NewReader(r)
	for {
		chunk, err := br.ReadString('\n')
		if chunk != "" {
			// Keep draining after the consumer left so the process can exit.
			s.send(domain.StreamEvent{Name: name, Text: chunk})
		}
		if err != nil {
			return
		}
	}
}

// readEvents decodes one execution event per line.
func (t *Transport) readEvents(r io.Reader, s *stream, fail func(error)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			fail(fmt.Errorf("invalid event line: %w", err))
			break
		}
		ev, err := domain.DecodeEvent(raw)
		if err != nil {
			fail(err)
			break
		}
		s.send(ev)
	}
	if err := scanner.Err(); err != nil {
		fail(fmt.Errorf("failed to read events: %w", err))
	}
	// Drain so the process is not blocked on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}
