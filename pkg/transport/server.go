package transport

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/pion/logging"
)

// Handler answers command APDUs. picc.Card is a Handler.
type Handler interface {
	HandleAPDU(command []byte) []byte
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(command []byte) []byte

// HandleAPDU calls f.
func (f HandlerFunc) HandleAPDU(command []byte) []byte {
	return f(command)
}

// Resetter is implemented by handlers that keep session state. Reset is
// called on power-off and reset control frames.
type Resetter interface {
	Reset()
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// Handler answers the command APDUs of every connection. Required.
	Handler Handler

	// ATR is answered to ATR requests. Defaults to DefaultATR.
	ATR []byte

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Server exposes a Handler to remote readers using the vpcd framing.
// All connections share the handler, as readers in front of one card do.
type Server struct {
	handler Handler
	atr     []byte
	closeCh chan struct{}
	wg      sync.WaitGroup
	log     logging.LeveledLogger

	connsMu   sync.Mutex
	conns     map[net.Conn]struct{}
	listeners map[net.Listener]struct{}

	mu     sync.Mutex
	closed bool
}

// NewServer creates a Server with the given configuration.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Handler == nil {
		return nil, ErrNoHandler
	}
	s := &Server{
		handler:   config.Handler,
		atr:       config.ATR,
		closeCh:   make(chan struct{}),
		conns:     make(map[net.Conn]struct{}),
		listeners: make(map[net.Listener]struct{}),
	}
	if len(s.atr) == 0 {
		s.atr = DefaultATR
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("transport-server")
	}
	return s, nil
}

// Serve accepts connections on l until the server is closed. It always
// returns a non-nil error; ErrClosed after Close.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.connsMu.Lock()
	s.listeners[l] = struct{}{}
	s.connsMu.Unlock()
	defer func() {
		s.connsMu.Lock()
		delete(s.listeners, l)
		s.connsMu.Unlock()
	}()

	if s.log != nil {
		s.log.Infof("serving card on %s", l.Addr())
	}

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return ErrClosed
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		if !s.track(conn) {
			conn.Close()
			return ErrClosed
		}
		go s.handleConn(conn)
	}
}

// ServeConn serves a single connection and returns when it is closed.
func (s *Server) ServeConn(conn net.Conn) error {
	if !s.track(conn) {
		conn.Close()
		return ErrClosed
	}
	return s.handleConn(conn)
}

// Close stops all listeners and closes every connection.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	if s.log != nil {
		s.log.Info("stopping server")
	}
	close(s.closeCh)

	s.connsMu.Lock()
	for l := range s.listeners {
		l.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}

// track registers conn unless the server is closed.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
	return true
}

// handleConn runs the frame loop of one connection.
func (s *Server) handleConn(conn net.Conn) error {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
	}()

	if s.log != nil {
		s.log.Debugf("reader connected from %s", conn.RemoteAddr())
	}

	for {
		payload, err := readFrame(conn)
		if err != nil {
			select {
			case <-s.closeCh:
				return ErrClosed
			default:
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				if s.log != nil {
					s.log.Debugf("reader %s disconnected", conn.RemoteAddr())
				}
				return nil
			}
			if s.log != nil {
				s.log.Warnf("reading from %s: %v", conn.RemoteAddr(), err)
			}
			return err
		}

		resp := s.handle(payload)
		if resp == nil {
			continue
		}
		if err := writeFrame(conn, resp); err != nil {
			if s.log != nil {
				s.log.Warnf("writing to %s: %v", conn.RemoteAddr(), err)
			}
			return err
		}
	}
}

// handle answers one frame. Control frames other than ATR have no reply.
func (s *Server) handle(payload []byte) []byte {
	if len(payload) != 1 {
		return s.handler.HandleAPDU(payload)
	}

	switch payload[0] {
	case ControlPowerOff, ControlReset:
		if r, ok := s.handler.(Resetter); ok {
			r.Reset()
		}
		if s.log != nil {
			s.log.Debugf("card reset (control %02X)", payload[0])
		}
		return nil
	case ControlPowerOn:
		return nil
	case ControlATR:
		return s.atr
	default:
		if s.log != nil {
			s.log.Warnf("unknown control frame %02X", payload[0])
		}
		return nil
	}
}
