package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebfe/scard"
	"github.com/pion/logging"
)

// PCSCConfig configures a PCSC transport.
type PCSCConfig struct {
	// Exclusive connects to cards with exclusive access. The default is
	// shared access.
	Exclusive bool

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// PCSC is an apdu.Transport to the readers of the local PC/SC service.
// The slot passed to Transmit is the reader name; an empty slot selects the
// first reader. Cards are connected on first use and kept until Close.
type PCSC struct {
	ctx   *scard.Context
	share scard.ShareMode
	log   logging.LeveledLogger

	mu     sync.Mutex
	cards  map[string]*scard.Card
	closed bool
}

// NewPCSC establishes a PC/SC context.
func NewPCSC(config PCSCConfig) (*PCSC, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("transport: establish PC/SC context: %w", err)
	}
	p := &PCSC{
		ctx:   ctx,
		share: scard.ShareShared,
		cards: make(map[string]*scard.Card),
	}
	if config.Exclusive {
		p.share = scard.ShareExclusive
	}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("transport-pcsc")
	}
	return p, nil
}

// Readers lists the connected readers.
func (p *PCSC) Readers() ([]string, error) {
	readers, err := p.ctx.ListReaders()
	if err != nil {
		if errors.Is(err, scard.ErrNoReadersAvailable) {
			return nil, ErrNoReader
		}
		return nil, err
	}
	if len(readers) == 0 {
		return nil, ErrNoReader
	}
	return readers, nil
}

// WaitForCard blocks until a card is present in reader or ctx is done.
func (p *PCSC) WaitForCard(ctx context.Context, reader string) error {
	reader, err := p.resolve([]byte(reader))
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		p.ctx.Cancel()
	})
	defer stop()

	states := []scard.ReaderState{{
		Reader:       reader,
		CurrentState: scard.StateUnaware,
	}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := p.ctx.GetStatusChange(states, time.Second)
		switch {
		case err == nil:
		case errors.Is(err, scard.ErrTimeout):
			continue
		case errors.Is(err, scard.ErrCancelled):
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		default:
			return err
		}
		if states[0].EventState&scard.StatePresent != 0 {
			if p.log != nil {
				p.log.Debugf("card present in %q", reader)
			}
			return nil
		}
		states[0].CurrentState = states[0].EventState
	}
}

// Transmit sends a command APDU to the card in the reader named by slot.
func (p *PCSC) Transmit(ctx context.Context, slot []byte, command []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	card, reader, err := p.card(slot)
	if err != nil {
		return nil, err
	}

	resp, err := card.Transmit(command)
	if err != nil {
		if p.log != nil {
			p.log.Errorf("transmit to %q failed: %v", reader, err)
		}
		if errors.Is(err, scard.ErrRemovedCard) || errors.Is(err, scard.ErrResetCard) {
			p.drop(reader)
		}
		return nil, err
	}
	if len(resp) < 2 {
		return nil, ErrShortResponse
	}
	return resp, nil
}

// ATR returns the answer to reset of the card in the reader named by slot.
func (p *PCSC) ATR(slot []byte) ([]byte, error) {
	card, _, err := p.card(slot)
	if err != nil {
		return nil, err
	}
	status, err := card.Status()
	if err != nil {
		return nil, err
	}
	return status.Atr, nil
}

// Close disconnects all cards and releases the PC/SC context.
func (p *PCSC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for reader, card := range p.cards {
		_ = card.Disconnect(scard.LeaveCard)
		delete(p.cards, reader)
	}
	return p.ctx.Release()
}

// card returns the connected card for slot, connecting on first use.
func (p *PCSC) card(slot []byte) (*scard.Card, string, error) {
	reader, err := p.resolve(slot)
	if err != nil {
		return nil, "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, "", ErrClosed
	}
	if card, ok := p.cards[reader]; ok {
		return card, reader, nil
	}
	card, err := p.ctx.Connect(reader, p.share, scard.ProtocolAny)
	if err != nil {
		return nil, "", fmt.Errorf("transport: connect to %q: %w", reader, err)
	}
	if p.log != nil {
		p.log.Infof("connected to card in %q", reader)
	}
	p.cards[reader] = card
	return card, reader, nil
}

func (p *PCSC) drop(reader string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if card, ok := p.cards[reader]; ok {
		_ = card.Disconnect(scard.LeaveCard)
		delete(p.cards, reader)
	}
}

func (p *PCSC) resolve(slot []byte) (string, error) {
	if len(slot) > 0 {
		return string(slot), nil
	}
	readers, err := p.Readers()
	if err != nil {
		return "", err
	}
	return readers[0], nil
}
