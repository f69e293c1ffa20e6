package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/logging"
)

// RemoteConfig configures a Remote reader.
type RemoteConfig struct {
	// Conn is the connection to the card side. Required.
	Conn net.Conn

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Remote is an apdu.Transport to a card reachable over a stream connection
// using the vpcd framing. One connection carries one card, so the slot
// argument of Transmit is ignored.
//
// An exchange interrupted by its context closes the connection: a response
// may still be in flight and the frame stream cannot be resynchronized.
type Remote struct {
	conn net.Conn
	log  logging.LeveledLogger

	mu        sync.Mutex // serializes exchanges
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewRemote creates a Remote reader on an established connection.
func NewRemote(config RemoteConfig) (*Remote, error) {
	if config.Conn == nil {
		return nil, ErrNoConn
	}
	r := &Remote{conn: config.Conn}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("transport-remote")
	}
	return r, nil
}

// DialRemote connects to a card served on a TCP address, for example by
// the eid-picc emulator.
func DialRemote(ctx context.Context, address string, loggerFactory logging.LoggerFactory) (*Remote, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return NewRemote(RemoteConfig{Conn: conn, LoggerFactory: loggerFactory})
}

// Transmit sends a command APDU and waits for the response APDU.
func (r *Remote) Transmit(ctx context.Context, _ []byte, command []byte) ([]byte, error) {
	if len(command) < 4 {
		return nil, ErrShortCommand
	}
	resp, err := r.roundTrip(ctx, command, true)
	if err != nil {
		return nil, err
	}
	if len(resp) < 2 {
		return nil, ErrShortResponse
	}
	return resp, nil
}

// ATR requests the card's answer to reset.
func (r *Remote) ATR(ctx context.Context) ([]byte, error) {
	return r.roundTrip(ctx, []byte{ControlATR}, true)
}

// PowerOn powers the card up.
func (r *Remote) PowerOn(ctx context.Context) error {
	_, err := r.roundTrip(ctx, []byte{ControlPowerOn}, false)
	return err
}

// PowerOff powers the card down. The card drops any running session.
func (r *Remote) PowerOff(ctx context.Context) error {
	_, err := r.roundTrip(ctx, []byte{ControlPowerOff}, false)
	return err
}

// Reset performs a warm reset of the card.
func (r *Remote) Reset(ctx context.Context) error {
	_, err := r.roundTrip(ctx, []byte{ControlReset}, false)
	return err
}

// Close closes the connection. An exchange in progress fails.
func (r *Remote) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.closeErr = r.conn.Close()
	})
	return r.closeErr
}

func (r *Remote) roundTrip(ctx context.Context, payload []byte, reply bool) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan exchangeResult, 1)
	go func() {
		resp, err := r.exchange(payload, reply)
		done <- exchangeResult{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if r.closed.Load() {
				return nil, ErrClosed
			}
			if r.log != nil {
				r.log.Errorf("exchange with %s failed: %v", r.conn.RemoteAddr(), res.err)
			}
			return nil, res.err
		}
		return res.resp, nil
	case <-ctx.Done():
		r.Close()
		if r.log != nil {
			r.log.Warnf("exchange interrupted, closed connection to %s", r.conn.RemoteAddr())
		}
		return nil, ctx.Err()
	}
}

type exchangeResult struct {
	resp []byte
	err  error
}

func (r *Remote) exchange(payload []byte, reply bool) ([]byte, error) {
	if r.log != nil {
		r.log.Tracef("> %d bytes", len(payload))
	}
	if err := writeFrame(r.conn, payload); err != nil {
		return nil, err
	}
	if !reply {
		return nil, nil
	}
	resp, err := readFrame(r.conn)
	if err != nil {
		return nil, err
	}
	if r.log != nil {
		r.log.Tracef("< %d bytes", len(resp))
	}
	return resp, nil
}
