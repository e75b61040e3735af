// Package shell runs commands in long-lived interactive shells and works
// out, from the terminal output alone, when each command has finished.
//
// An Executor owns one connection. Every Caller gets its own terminal on that
// connection, created on first use and kept until CloseSession or Close.
package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/acolita/ptyexec/internal/adapters/realclock"
	"github.com/acolita/ptyexec/internal/adapters/realrand"
	"github.com/acolita/ptyexec/internal/logging"
	"github.com/acolita/ptyexec/internal/ports"
	"github.com/acolita/ptyexec/internal/tracing"
)

// Option configures an Executor.
type Option func(*Executor)

// WithClock sets the clock driving the poll loop.
func WithClock(clock ports.Clock) Option {
	return func(e *Executor) {
		e.clock = clock
	}
}

// WithRandom sets the source for profile names and connection IDs.
func WithRandom(random ports.Random) Option {
	return func(e *Executor) {
		e.random = random
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithTracer sets the tracer; the global one is used otherwise.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// WithEnv adds variables to the session profile. PS1, LANG and LANGUAGE are
// ignored.
func WithEnv(env map[string]string) Option {
	return func(e *Executor) {
		for k, v := range env {
			e.env[k] = v
		}
	}
}

// WithPrompt sets the PS1 marker.
func WithPrompt(prompt string) Option {
	return func(e *Executor) {
		if prompt != "" {
			e.prompt = prompt
		}
	}
}

// WithProfileDir sets the remote directory for the profile file.
func WithProfileDir(dir string) Option {
	return func(e *Executor) {
		if dir != "" {
			e.profileDir = dir
		}
	}
}

// WithTerminal sets the terminal type and size requested for new sessions.
func WithTerminal(term string, cols, rows int) Option {
	return func(e *Executor) {
		if term != "" {
			e.term = term
		}
		if cols > 0 {
			e.cols = cols
		}
		if rows > 0 {
			e.rows = rows
		}
	}
}

// WithPollInterval sets how long to wait when no output is ready.
func WithPollInterval(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithChunkSize sets the maximum bytes read per poll.
func WithChunkSize(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithDefaultTimeout sets the timeout used when Execute gets none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// Executor sends commands to interactive shells over one connection.
type Executor struct {
	transport ports.Transport
	clock     ports.Clock
	random    ports.Random
	logger    *slog.Logger
	tracer    trace.Tracer

	prompt         string
	env            map[string]string
	profileDir     string
	term           string
	cols, rows     int
	pollInterval   time.Duration
	chunkSize      int
	defaultTimeout time.Duration

	mu   sync.Mutex
	conn *connection
}

// New creates an Executor that connects through transport.
func New(transport ports.Transport, opts ...Option) *Executor {
	e := &Executor{
		transport:      transport,
		clock:          realclock.New(),
		random:         realrand.New(),
		logger:         slog.Default(),
		prompt:         DefaultPrompt,
		env:            make(map[string]string),
		profileDir:     DefaultProfileDir,
		term:           DefaultTerm,
		cols:           DefaultCols,
		rows:           DefaultRows,
		pollInterval:   DefaultPollInterval,
		chunkSize:      DefaultChunkSize,
		defaultTimeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = tracing.Tracer()
	}
	return e
}

// Prompt returns the PS1 marker sessions run with.
func (e *Executor) Prompt() string {
	return e.prompt
}

// Connect opens the connection to target and uploads the session profile.
func (e *Executor) Connect(ctx context.Context, target ports.Target) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		return ErrAlreadyConnected
	}
	if target.Port == 0 {
		target.Port = defaultSSHPort
	}

	id, err := uuid.NewRandomFromReader(e.random)
	if err != nil {
		return fmt.Errorf("generate connection id: %w", err)
	}
	logger := e.logger.With(
		slog.String("target", TargetURL(target)),
		slog.String("conn_id", id.String()),
	)

	ctx, span := tracing.StartSpan(ctx, e.tracer, "shell.Connect",
		attribute.String("target", TargetURL(target)),
		attribute.String("conn_id", id.String()),
	)
	defer func() {
		span.SetStatus(err)
		span.End()
	}()

	logger.Info("connecting")
	factory, err := e.transport.Open(ctx, target)
	if err != nil {
		return &ConnectionError{Op: "open", Target: target, Err: err}
	}

	profile, err := profilePath(e.random, e.profileDir)
	if err != nil {
		factory.Close()
		return &ConnectionError{Op: "write profile", Target: target, Err: err}
	}
	if err := factory.WriteFile(profile, buildProfile(e.env, e.prompt)); err != nil {
		factory.Close()
		return &ConnectionError{Op: "write profile", Target: target, Err: err}
	}

	e.conn = &connection{
		id:       id.String(),
		target:   target,
		factory:  factory,
		profile:  profile,
		logger:   logger,
		sessions: make(map[string]*session),
	}
	logger.Info("connected", slog.String("profile", profile))
	return nil
}

// Close removes the profile, closes every session and then the connection.
// Closing an Executor that is not connected is a no-op.
func (e *Executor) Close() error {
	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()

	if conn == nil {
		return nil
	}

	if err := conn.factory.RemoveFile(conn.profile); err != nil {
		conn.logger.Debug("profile not removed", slog.String("profile", conn.profile), slog.Any("error", err))
	}

	var errs []error
	for _, name := range conn.names() {
		if err := conn.closeSession(name); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", name, err))
		}
	}
	if err := conn.factory.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}

	conn.logger.Info("disconnected")
	return errors.Join(errs...)
}

// Closed reports whether there is no usable connection.
func (e *Executor) Closed() bool {
	conn := e.current()
	return conn == nil || !conn.factory.Active()
}

// Target returns the connected target.
func (e *Executor) Target() (ports.Target, bool) {
	conn := e.current()
	if conn == nil {
		return ports.Target{}, false
	}
	return conn.target, true
}

// CloseSession closes the session called name.
func (e *Executor) CloseSession(name string) error {
	conn := e.current()
	if conn == nil {
		return &UnknownSessionError{Name: name}
	}
	return conn.closeSession(name)
}

// SessionNames returns the names of the open sessions, sorted.
func (e *Executor) SessionNames() []string {
	conn := e.current()
	if conn == nil {
		return nil
	}
	return conn.names()
}

// SessionInfo describes one open session.
type SessionInfo struct {
	Name      string    `json:"name"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
	Commands  int       `json:"commands"`
}

// Sessions returns a snapshot of the open sessions, sorted by name.
func (e *Executor) Sessions() []SessionInfo {
	conn := e.current()
	if conn == nil {
		return nil
	}
	var infos []SessionInfo
	for _, name := range conn.names() {
		if s, ok := conn.lookup(name); ok {
			infos = append(infos, s.info())
		}
	}
	return infos
}

// Execute runs command in the caller's session and waits until expect is
// met or timeout passes. A timeout of zero or less means the default.
//
// With ExitCodeZero a non-zero exit code gives a *CommandError; when the
// deadline passes first the result is a *TimeoutError carrying the output
// seen so far.
func (e *Executor) Execute(ctx context.Context, command string, expect Expectation, timeout time.Duration) (out string, err error) {
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	conn := e.current()
	if conn == nil {
		return "", ErrNotConnected
	}

	name := CallerFrom(ctx).Key()
	logger := conn.logger.With(slog.String("session", name))

	ctx, span := tracing.StartSpan(ctx, e.tracer, "shell.Execute",
		attribute.String("conn_id", conn.id),
		attribute.String("session", name),
		attribute.String("command", command),
		attribute.String("expect", expect.String()),
	)
	defer func() {
		span.SetAttributes(attribute.Int("output.bytes", len(out)))
		span.SetStatus(err)
		span.End()
	}()

	sess, created, err := conn.session(name, e.clock.Now(), e.openPTY)
	if err != nil {
		return "", fmt.Errorf("open session %s: %w", name, err)
	}
	if created {
		logger.Info("session created")
	}

	data := command
	if expect.Kind == ExpectExitCodeZero {
		data = command + "\necho $?"
	}
	if created {
		data = "source " + conn.profile + "\n" + data
	}

	logger.Info("executing", slog.String("command", command), slog.String("expect", expect.String()))
	sess.begin(e.clock.Now())
	if err := sess.channel.Send(data + "\r"); err != nil {
		sess.finish(StateIdle)
		return "", fmt.Errorf("send %q: %w", command, err)
	}

	result := NewResult(e.prompt, command, expect)
	return e.await(ctx, logger, sess, result, command, expect, timeout)
}

// await polls the session until result is finished, the deadline passes or
// ctx is done.
func (e *Executor) await(ctx context.Context, logger *slog.Logger, sess *session, result *Result, command string, expect Expectation, timeout time.Duration) (string, error) {
	deadline := e.clock.Now().Add(timeout)
	for e.clock.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			sess.finish(StateRunning)
			return result.Output(), fmt.Errorf("execute %q: %w", command, err)
		}
		if !sess.channel.RecvReady() {
			e.clock.Sleep(e.pollInterval)
			continue
		}

		chunk, err := sess.channel.Recv(e.chunkSize)
		if err != nil {
			sess.finish(StateClosed)
			return result.Output(), fmt.Errorf("read output of %q: %w", command, err)
		}
		logger.Debug("output chunk", slog.Int("bytes", len(chunk)), slog.String("data", logging.Truncate(string(chunk), 120)))
		result.Append(chunk)
		if !result.Finished() {
			continue
		}

		if n := result.SkippedPrompts(); n > 0 {
			logger.Warn("prompt lines skipped before echo", slog.String("command", command), slog.Int("skipped", n))
		}
		if _, _, ended := result.Bounds(); ended {
			sess.finish(StateIdle)
		} else {
			sess.finish(StateAwaitingInput)
		}

		if expect.Kind == ExpectExitCodeZero && !result.Succeeded() {
			rc, _ := result.ReturnCode()
			logger.Info("command failed", slog.String("command", command), slog.String("rc", rc))
			return "", &CommandError{Command: command, Expect: expect, ReturnCode: rc, Output: result.Output()}
		}
		return result.Output(), nil
	}

	sess.finish(StateRunning)
	logger.Info("command timed out", slog.String("command", command), slog.Duration("timeout", timeout))
	return "", &TimeoutError{Command: command, Expect: expect, After: timeout, Output: result.Output()}
}

func (e *Executor) openPTY(f ports.ChannelFactory) (ports.Channel, error) {
	return f.NewPTY(e.term, e.cols, e.rows)
}

func (e *Executor) current() *connection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn
}

// TargetURL renders target as ssh://user@host:port for logs.
func TargetURL(t ports.Target) string {
	return "ssh://" + t.User + "@" + net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// connection is the state between Connect and Close.
type connection struct {
	id      string
	target  ports.Target
	factory ports.ChannelFactory
	profile string
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// session returns the session called name, creating it with open when it
// does not exist yet. created is true only for the call that created it.
// Concurrent callers for the same name wait for one creation; callers for
// other names are not held up by it.
func (c *connection) session(name string, now time.Time, open func(ports.ChannelFactory) (ports.Channel, error)) (s *session, created bool, err error) {
	c.mu.Lock()
	s, ok := c.sessions[name]
	if !ok {
		s = &session{name: name, ready: make(chan struct{})}
		c.sessions[name] = s
	}
	c.mu.Unlock()

	s.once.Do(func() {
		defer close(s.ready)
		ch, err := open(c.factory)
		if err != nil {
			s.err = err
			c.mu.Lock()
			if c.sessions[name] == s {
				delete(c.sessions, name)
			}
			c.mu.Unlock()
			return
		}
		s.channel = ch
		s.state = StateIdle
		s.createdAt = now
		created = true
	})
	<-s.ready

	if s.err != nil {
		return nil, false, s.err
	}
	return s, created, nil
}

func (c *connection) lookup(name string) (*session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[name]
	return s, ok
}

func (c *connection) closeSession(name string) error {
	c.mu.Lock()
	s, ok := c.sessions[name]
	if ok {
		delete(c.sessions, name)
	}
	c.mu.Unlock()

	if !ok {
		return &UnknownSessionError{Name: name}
	}
	<-s.ready
	if s.channel == nil {
		return nil
	}
	s.finish(StateClosed)
	c.logger.Info("session closed", slog.String("session", name))
	return s.channel.Close()
}

func (c *connection) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.sessions))
	for name := range c.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// session is one terminal. Commands on a session are sequential; the mutex
// only guards the bookkeeping read by Sessions.
type session struct {
	name    string
	once    sync.Once
	ready   chan struct{}
	channel ports.Channel
	err     error

	mu        sync.Mutex
	state     State
	createdAt time.Time
	lastUsed  time.Time
	commands  int
}

func (s *session) begin(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateRunning
	s.lastUsed = now
	s.commands++
}

func (s *session) finish(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		Name:      s.name,
		State:     s.state,
		CreatedAt: s.createdAt,
		LastUsed:  s.lastUsed,
		Commands:  s.commands,
	}
}
