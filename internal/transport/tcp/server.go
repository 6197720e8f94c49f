// internal/transport/tcp/server.go

// Package tcp implements the network transport adapter: one listener, one
// independent session goroutine per accepted connection.
package tcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rudrakshya/LIS/internal/device"
	"github.com/rudrakshya/LIS/internal/protocol"
	"github.com/rudrakshya/LIS/internal/transport"
)

// Config is the listener's runtime configuration.
type Config struct {
	Listen string
	// IdleTimeout tears down a session with no inbound bytes.
	IdleTimeout time.Duration
	// DefaultProfile is used for connections that never identify as a
	// registered device. Normally "hl7".
	DefaultProfile string
	ReadBuffer     int
}

// Server accepts analyzer connections and runs one session per connection.
type Server struct {
	cfg        Config
	intake     *transport.Intake
	dispatcher *transport.Dispatcher
	registry   *device.Registry
	profiles   *protocol.Registry
	logger     *logrus.Entry

	mu       sync.Mutex
	listener net.Listener
	sessions map[string]*session
	wg       sync.WaitGroup
}

func NewServer(cfg Config, intake *transport.Intake, dispatcher *transport.Dispatcher,
	registry *device.Registry, profiles *protocol.Registry) *Server {
	if cfg.DefaultProfile == "" {
		cfg.DefaultProfile = "hl7"
	}
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = 4096
	}
	return &Server{
		cfg:        cfg,
		intake:     intake,
		dispatcher: dispatcher,
		registry:   registry,
		profiles:   profiles,
		logger:     intake.Logger.WithField("component", "tcp-server"),
		sessions:   make(map[string]*session),
	}
}

// Start binds the listener and serves until ctx ends. Blocks.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("tcp: listen %s: %w", s.cfg.Listen, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.WithField("addr", ln.Addr().String()).Info("listening")

	go func() {
		<-ctx.Done()
		ln.Close()
		s.closeSessions()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.WithError(err).Warn("accept failed")
			continue
		}
		sess := s.newSession(conn)
		s.track(sess)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.run()
		}()
	}

	s.wg.Wait()
	return nil
}

// Addr reports the bound listen address, for tests using port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) track(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.id] = sess
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.Close()
	}
}

// session is one accepted connection. The read loop owns the receive buffer
// and the frame decoder; Write is serialized for the dispatcher.
type session struct {
	id     string
	server *Server
	conn   net.Conn

	writeMu sync.Mutex

	deviceMu sync.Mutex
	deviceID string

	// Device identification preamble (DEVICE_ID:<id> line) is consumed
	// before the frame decoder is selected.
	pre     []byte
	preCR   bool // preamble line ended the read on a bare CR
	bound   bool
	decoder protocol.Decoder
	codec   protocol.Codec
}

func (s *Server) newSession(conn net.Conn) *session {
	remote := conn.RemoteAddr().String()
	return &session{
		id:       "tcp:" + remote,
		server:   s,
		conn:     conn,
		deviceID: "tcp:" + remote,
	}
}

func (ss *session) ID() string { return ss.id }

func (ss *session) DeviceID() string {
	ss.deviceMu.Lock()
	defer ss.deviceMu.Unlock()
	return ss.deviceID
}

func (ss *session) Write(b []byte) error {
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	_, err := ss.conn.Write(b)
	return err
}

func (ss *session) Close() error { return ss.conn.Close() }

func (ss *session) run() {
	srv := ss.server
	log := srv.logger.WithField("session", ss.id)
	log.Info("connection accepted")

	defer func() {
		srv.dispatcher.Detach(ss.id)
		srv.untrack(ss.id)
		ss.conn.Close()
		srv.registry.Disconnected(ss.DeviceID())
		log.Info("connection closed")
	}()

	buf := make([]byte, srv.cfg.ReadBuffer)
	for {
		if srv.cfg.IdleTimeout > 0 {
			ss.conn.SetReadDeadline(time.Now().Add(srv.cfg.IdleTimeout))
		}
		n, err := ss.conn.Read(buf)
		if n > 0 {
			ss.consume(buf[:n])
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				log.WithField("device", ss.DeviceID()).Warn("idle timeout")
			} else if !isClosed(err) {
				log.WithError(err).Debug("read ended")
			}
			return
		}
	}
}

// consume routes a read chunk: first through the identification preamble,
// then into the frame decoder.
func (ss *session) consume(p []byte) {
	if ss.preCR && len(p) > 0 {
		if p[0] == '\n' {
			p = p[1:]
		}
		ss.preCR = false
		if len(p) == 0 {
			return
		}
	}
	if !ss.bound {
		p = ss.preamble(p)
		if p == nil {
			return
		}
	}
	ss.server.intake.HandleBytes(ss, ss.decoder, ss.codec, p)
}

// preamble buffers until the session either announces a device id
// (DEVICE_ID:<id> terminated by CR/LF) or starts sending protocol data.
// Returns the bytes the decoder should see, or nil while still buffering.
func (ss *session) preamble(p []byte) []byte {
	ss.pre = append(ss.pre, p...)

	if nl := bytes.IndexAny(ss.pre, "\r\n"); nl >= 0 {
		line := string(ss.pre[:nl])
		if id, ok := strings.CutPrefix(line, "DEVICE_ID:"); ok {
			rest := ss.pre[nl+1:]
			if ss.pre[nl] == '\r' {
				if len(rest) > 0 && rest[0] == '\n' {
					rest = rest[1:]
				} else if len(rest) == 0 {
					// The LF half of the CRLF may land in the next read.
					ss.preCR = true
				}
			}
			ss.bind(strings.TrimSpace(id))
			ss.pre = nil
			if len(rest) == 0 {
				return nil
			}
			return rest
		}
	}

	// No identification: either a frame start byte showed up, or enough has
	// accumulated that this is clearly raw protocol traffic.
	if bytes.IndexByte(ss.pre, 0x0B) >= 0 || bytes.IndexAny(ss.pre, "\r\n") >= 0 || len(ss.pre) > 512 {
		ss.bind("")
		out := ss.pre
		ss.pre = nil
		return out
	}
	return nil
}

// bind fixes the session's device identity and selects its profile. Unknown
// or anonymous peers get an ad-hoc registry entry under the session id with
// the default profile.
func (ss *session) bind(deviceID string) {
	srv := ss.server
	profileName := srv.cfg.DefaultProfile

	if deviceID != "" {
		if d, ok := srv.registry.Get(deviceID); ok {
			profileName = d.Profile
		} else {
			srv.logger.WithField("device", deviceID).Warn("unknown device id, registering ad hoc")
			srv.registry.Register(deviceID, device.TransportTCP, profileName, ss.conn.RemoteAddr().String(), 0)
		}
		ss.deviceMu.Lock()
		ss.deviceID = deviceID
		ss.deviceMu.Unlock()
	} else {
		srv.registry.Register(ss.DeviceID(), device.TransportTCP, profileName, ss.conn.RemoteAddr().String(), 0)
	}

	profile, err := srv.profiles.Profile(profileName)
	if err != nil {
		// Misconfigured device entry; fall back so the session still works.
		profile, _ = srv.profiles.Profile(srv.cfg.DefaultProfile)
	}
	ss.decoder = profile.NewDecoder(ss.DeviceID())
	ss.codec = profile.Codec()
	ss.bound = true

	srv.registry.Connected(ss.DeviceID())
	srv.dispatcher.Attach(ss, ss.codec)
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}
