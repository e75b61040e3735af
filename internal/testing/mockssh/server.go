// Package mockssh provides an in-process SSH server for testing. It runs a
// real shell on a pseudo-terminal for "shell" requests and serves the local
// filesystem for the "sftp" subsystem.
package mockssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Server is a mock SSH server for testing.
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig
	hostKey  ssh.PublicKey
	addr     string
	shell    string
	env      []string
	noSFTP   bool

	mu    sync.RWMutex
	users map[string]string          // username -> password
	keys  map[string][]ssh.PublicKey // username -> authorized keys

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup

	trackMu  sync.Mutex
	conns    []net.Conn
	sessions []*session
}

type session struct {
	channel ssh.Channel
	pty     *os.File
	cmd     *exec.Cmd
}

// Option configures the mock SSH server.
type Option func(*Server)

// WithShell sets the program run for shell and exec requests.
func WithShell(shell string) Option {
	return func(s *Server) {
		s.shell = shell
	}
}

// WithUser adds a user/password pair for authentication.
func WithUser(username, password string) Option {
	return func(s *Server) {
		s.users[username] = password
	}
}

// WithAuthorizedKey lets username log in with key.
func WithAuthorizedKey(username string, key ssh.PublicKey) Option {
	return func(s *Server) {
		s.keys[username] = append(s.keys[username], key)
	}
}

// WithEnv adds KEY=VALUE entries to the environment of every shell.
func WithEnv(env ...string) Option {
	return func(s *Server) {
		s.env = append(s.env, env...)
	}
}

// WithoutSFTP makes the server refuse the sftp subsystem.
func WithoutSFTP() Option {
	return func(s *Server) {
		s.noSFTP = true
	}
}

// New starts a server on a random loopback port.
func New(opts ...Option) (*Server, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	s := &Server{
		shell:   "/bin/sh",
		users:   map[string]string{"test": "test"},
		keys:    make(map[string][]ssh.PublicKey),
		hostKey: signer.PublicKey(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if s.checkPassword(c.User(), string(password)) {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
		KeyboardInteractiveCallback: func(c ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge("", "", []string{"Password: "}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) == 1 && s.checkPassword(c.User(), answers[0]) {
				return nil, nil
			}
			return nil, fmt.Errorf("keyboard-interactive rejected for %q", c.User())
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			s.mu.RLock()
			defer s.mu.RUnlock()
			for _, k := range s.keys[c.User()] {
				if string(k.Marshal()) == string(key.Marshal()) {
					return nil, nil
				}
			}
			return nil, fmt.Errorf("key rejected for %q", c.User())
		},
	}
	config.AddHostKey(signer)
	s.config = config

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()

	s.wg.Add(1)
	go s.acceptLoop()

	slog.Debug("mock SSH server started", slog.String("addr", s.addr))
	return s, nil
}

func (s *Server) checkPassword(user, password string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	expected, ok := s.users[user]
	return ok && password == expected
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.addr
}

// Host returns the host part of the address.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.addr)
	return host
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.addr)
	n, _ := strconv.Atoi(port)
	return n
}

// HostKey returns the server's public host key.
func (s *Server) HostKey() ssh.PublicKey {
	return s.hostKey
}

// Close stops the server, kills running shells and drops connections.
// Calling it more than once is safe.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.shutdown()
	})
	return s.closeErr
}

func (s *Server) shutdown() error {
	close(s.done)
	err := s.listener.Close()

	s.trackMu.Lock()
	for _, sess := range s.sessions {
		if sess.cmd != nil && sess.cmd.Process != nil {
			sess.cmd.Process.Kill()
		}
		if sess.channel != nil {
			sess.channel.Close()
		}
	}
	for _, c := range s.conns {
		c.Close()
	}
	s.sessions = nil
	s.conns = nil
	s.trackMu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Debug("accept error", slog.Any("error", err))
				continue
			}
		}

		s.trackMu.Lock()
		s.conns = append(s.conns, conn)
		s.trackMu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		slog.Debug("SSH handshake failed", slog.Any("error", err))
		return
	}
	defer sshConn.Close()

	go s.handleGlobalRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			slog.Debug("channel accept failed", slog.Any("error", err))
			continue
		}

		s.wg.Add(1)
		go s.handleChannel(channel, requests)
	}
}

// handleGlobalRequests answers keepalives and refuses everything else.
func (s *Server) handleGlobalRequests(reqs <-chan *ssh.Request) {
	for req := range reqs {
		if req.WantReply {
			req.Reply(req.Type == "keepalive@openssh.com", nil)
		}
	}
}

// Payloads of the channel requests, RFC 4254 section 6.
type (
	ptyRequest struct {
		Term     string
		Columns  uint32
		Rows     uint32
		Width    uint32
		Height   uint32
		Modelist string
	}
	windowChange struct {
		Columns uint32
		Rows    uint32
		Width   uint32
		Height  uint32
	}
	envRequest struct {
		Name  string
		Value string
	}
	execRequest struct {
		Command string
	}
	subsystemRequest struct {
		Name string
	}
	exitStatus struct {
		Status uint32
	}
)

func (s *Server) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wg.Done()

	sess := &session{channel: channel}
	s.trackMu.Lock()
	s.sessions = append(s.sessions, sess)
	s.trackMu.Unlock()

	var (
		ptyReq  *ptyRequest
		env     []string
		started bool
	)

	for req := range requests {
		ok := false
		switch req.Type {
		case "pty-req":
			var p ptyRequest
			if err := ssh.Unmarshal(req.Payload, &p); err == nil {
				ptyReq = &p
				ok = true
			}

		case "env":
			var e envRequest
			if err := ssh.Unmarshal(req.Payload, &e); err == nil {
				env = append(env, e.Name+"="+e.Value)
				ok = true
			}

		case "shell":
			ok = !started
			if ok {
				started = true
				s.start(sess, ptyReq, env)
			}

		case "exec":
			var e execRequest
			if err := ssh.Unmarshal(req.Payload, &e); err == nil && !started {
				started = true
				ok = true
				s.start(sess, ptyReq, env, "-c", e.Command)
			}

		case "subsystem":
			var sub subsystemRequest
			if err := ssh.Unmarshal(req.Payload, &sub); err == nil && sub.Name == "sftp" && !s.noSFTP && !started {
				started = true
				ok = true
				s.wg.Add(1)
				go s.serveSFTP(channel)
			}

		case "window-change":
			var w windowChange
			if err := ssh.Unmarshal(req.Payload, &w); err == nil {
				s.trackMu.Lock()
				if sess.pty != nil {
					pty.Setsize(sess.pty, &pty.Winsize{Rows: uint16(w.Rows), Cols: uint16(w.Columns)})
				}
				s.trackMu.Unlock()
				ok = true
			}
		}

		if req.WantReply {
			req.Reply(ok, nil)
		}
	}
}

func (s *Server) serveSFTP(channel ssh.Channel) {
	defer s.wg.Done()
	defer channel.Close()

	server, err := sftp.NewServer(channel)
	if err != nil {
		slog.Debug("sftp server failed", slog.Any("error", err))
		return
	}
	if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
		slog.Debug("sftp serve ended", slog.Any("error", err))
	}
	server.Close()
}

// start runs the shell in the background so the request loop can reply.
func (s *Server) start(sess *session, ptyReq *ptyRequest, env []string, args ...string) {
	cmd := exec.Command(s.shell, args...)
	cmd.Env = append(append(os.Environ(), s.env...), env...)

	if ptyReq == nil {
		s.wg.Add(1)
		go s.runPlain(sess, cmd)
		return
	}

	cmd.Env = append(cmd.Env, "TERM="+ptyReq.Term)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(ptyReq.Rows), Cols: uint16(ptyReq.Columns)})
	if err != nil {
		slog.Debug("pty start failed", slog.Any("error", err))
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sendExitStatus(sess.channel, 1)
		}()
		return
	}

	s.trackMu.Lock()
	sess.pty = ptmx
	sess.cmd = cmd
	s.trackMu.Unlock()

	s.wg.Add(1)
	go s.runPTY(sess, cmd, ptmx)
}

func (s *Server) runPTY(sess *session, cmd *exec.Cmd, ptmx *os.File) {
	defer s.wg.Done()

	go func() {
		io.Copy(ptmx, sess.channel)
		// The client went away: hang up like sshd does.
		cmd.Process.Signal(syscall.SIGHUP)
	}()

	// Returns once the shell and its children closed the terminal.
	io.Copy(sess.channel, ptmx)

	sendExitStatus(sess.channel, exitCode(cmd.Wait()))
	ptmx.Close()
}

func (s *Server) runPlain(sess *session, cmd *exec.Cmd) {
	defer s.wg.Done()

	cmd.Stdin = sess.channel
	cmd.Stdout = sess.channel
	cmd.Stderr = sess.channel.Stderr()

	s.trackMu.Lock()
	sess.cmd = cmd
	s.trackMu.Unlock()

	sendExitStatus(sess.channel, exitCode(cmd.Run()))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

func sendExitStatus(channel ssh.Channel, code int) {
	channel.CloseWrite()
	channel.SendRequest("exit-status", false, ssh.Marshal(exitStatus{Status: uint32(code)}))
	channel.Close()
}
