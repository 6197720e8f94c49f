// internal/transport/serial/port.go

// Package serial implements the serial-port transport adapter: one
// independent session per configured port, reconnecting on I/O errors with
// exponential backoff.
package serial

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/serial"
	"github.com/sirupsen/logrus"

	"github.com/rudrakshya/LIS/internal/device"
	"github.com/rudrakshya/LIS/internal/protocol"
	"github.com/rudrakshya/LIS/internal/transport"
)

// Config describes one serial device session.
type Config struct {
	DeviceID string
	Port     string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string // "N", "E", "O"
	// ReadTimeout bounds one blocking read; expiring it flushes any partial
	// record out of the decoder.
	ReadTimeout time.Duration
	// Reconnect backoff after I/O errors.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (c *Config) fill() {
	if c.BaudRate == 0 {
		c.BaudRate = 9600
	}
	if c.DataBits == 0 {
		c.DataBits = 8
	}
	if c.StopBits == 0 {
		c.StopBits = 1
	}
	if c.Parity == "" {
		c.Parity = "N"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = time.Minute
	}
}

// Session owns one serial port. It implements transport.Session; the port
// handle is swapped across reconnects behind portMu.
type Session struct {
	cfg        Config
	profile    protocol.Profile
	intake     *transport.Intake
	dispatcher *transport.Dispatcher
	registry   *device.Registry
	logger     *logrus.Entry

	portMu sync.Mutex
	port   serial.Port
}

func NewSession(cfg Config, profile protocol.Profile, intake *transport.Intake,
	dispatcher *transport.Dispatcher, registry *device.Registry) *Session {
	cfg.fill()
	return &Session{
		cfg:        cfg,
		profile:    profile,
		intake:     intake,
		dispatcher: dispatcher,
		registry:   registry,
		logger: intake.Logger.WithFields(logrus.Fields{
			"component": "serial",
			"device":    cfg.DeviceID,
			"port":      cfg.Port,
		}),
	}
}

func (s *Session) ID() string       { return "serial:" + s.cfg.Port }
func (s *Session) DeviceID() string { return s.cfg.DeviceID }

func (s *Session) Write(b []byte) error {
	s.portMu.Lock()
	defer s.portMu.Unlock()
	if s.port == nil {
		return protocol.ErrSessionClosed
	}
	_, err := s.port.Write(b)
	return err
}

func (s *Session) Close() error {
	s.portMu.Lock()
	defer s.portMu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// Run opens the port and reads until ctx ends, reconnecting with exponential
// backoff on I/O errors. The registry decides when the device has failed too
// often to keep retrying. Blocks.
func (s *Session) Run(ctx context.Context) {
	codec := s.profile.Codec()
	backoff := s.cfg.BackoffInitial

	defer func() {
		s.dispatcher.Detach(s.ID())
		s.Close()
		s.registry.Disconnected(s.cfg.DeviceID)
	}()

	for ctx.Err() == nil {
		s.registry.Connecting(s.cfg.DeviceID)
		if err := s.open(); err != nil {
			s.logger.WithError(err).Warn("open failed")
			if !s.registry.MarkError(s.cfg.DeviceID, err) {
				return
			}
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, s.cfg.BackoffMax)
			continue
		}

		s.registry.Connected(s.cfg.DeviceID)
		s.dispatcher.Attach(s, codec)
		s.logger.Info("port open")
		backoff = s.cfg.BackoffInitial

		decoder := s.profile.NewDecoder(s.cfg.DeviceID)
		err := s.readLoop(ctx, decoder, codec)
		s.dispatcher.Detach(s.ID())
		s.Close()
		if ctx.Err() != nil {
			return
		}

		s.logger.WithError(err).Warn("port error, reconnecting")
		if !s.registry.MarkError(s.cfg.DeviceID, err) {
			return
		}
		if !sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, s.cfg.BackoffMax)
	}
}

func (s *Session) open() error {
	port, err := serial.Open(&serial.Config{
		Address:  s.cfg.Port,
		BaudRate: s.cfg.BaudRate,
		DataBits: s.cfg.DataBits,
		StopBits: s.cfg.StopBits,
		Parity:   s.cfg.Parity,
		Timeout:  s.cfg.ReadTimeout,
	})
	if err != nil {
		return fmt.Errorf("serial: open %s: %w", s.cfg.Port, err)
	}
	s.portMu.Lock()
	s.port = port
	s.portMu.Unlock()
	return nil
}

// readLoop pumps bytes into the decoder until an I/O error. Read timeouts
// are not errors: they close partial records via Flush and keep listening.
func (s *Session) readLoop(ctx context.Context, decoder protocol.Decoder, codec protocol.Codec) error {
	buf := make([]byte, 1024)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.portMu.Lock()
		port := s.port
		s.portMu.Unlock()
		if port == nil {
			return protocol.ErrSessionClosed
		}

		n, err := port.Read(buf)
		if n > 0 {
			s.intake.HandleBytes(s, decoder, codec, buf[:n])
		}
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				// Inactivity window: a device that stopped mid-record gets
				// its partial record flushed rather than held forever.
				s.intake.HandleFlush(s, decoder, codec)
				continue
			}
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}
