package apdu

import (
	"context"
	"fmt"

	"github.com/pion/logging"
)

// Transport sends one raw command APDU to the card in the given slot and
// returns the raw response APDU. Implementations block until the card
// answers, the channel fails, or ctx is done.
type Transport interface {
	Transmit(ctx context.Context, slot []byte, command []byte) ([]byte, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, slot []byte, command []byte) ([]byte, error)

// Transmit calls f.
func (f TransportFunc) Transmit(ctx context.Context, slot []byte, command []byte) ([]byte, error) {
	return f(ctx, slot, command)
}

// maxGetResponse bounds the 61xx loop of one command. 64 full responses
// already exceed the extended length limit.
const maxGetResponse = 64

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	// ExtendedLength allows extended length APDUs. When false, command data
	// longer than 255 bytes is sent as an ISO 7816-4 command chain.
	ExtendedLength bool

	// LoggerFactory is used to create the channel logger. Optional.
	LoggerFactory logging.LoggerFactory
}

// Channel exchanges structured APDUs with the card in one slot.
// It hides GET RESPONSE (61xx), Le correction (6Cxx) and command chaining
// from callers.
type Channel struct {
	transport Transport
	slot      []byte
	extended  bool
	log       logging.LeveledLogger
}

// NewChannel binds a transport to a card slot.
func NewChannel(t Transport, slot []byte, config ChannelConfig) *Channel {
	c := &Channel{
		transport: t,
		slot:      slot,
		extended:  config.ExtendedLength,
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("apdu")
	}
	return c
}

// Transmit sends cmd and returns the card's final response.
// A non-success status word is not an error; callers inspect Response.SW.
func (c *Channel) Transmit(ctx context.Context, cmd Command) (Response, error) {
	if len(cmd.Data) > MaxShortData && !c.extended {
		return c.transmitChain(ctx, cmd)
	}
	return c.transmitSingle(ctx, cmd)
}

// transmitChain splits cmd.Data into short commands with the chaining bit
// set on all but the last.
func (c *Channel) transmitChain(ctx context.Context, cmd Command) (Response, error) {
	data := cmd.Data
	for len(data) > MaxShortData {
		part := cmd
		part.Data = data[:MaxShortData]
		part.Ne = 0
		resp, err := c.transmitSingle(ctx, part.Chained())
		if err != nil {
			return Response{}, err
		}
		if !resp.OK() {
			return resp, nil
		}
		data = data[MaxShortData:]
	}
	last := cmd
	last.Data = data
	return c.transmitSingle(ctx, last)
}

func (c *Channel) transmitSingle(ctx context.Context, cmd Command) (Response, error) {
	resp, err := c.exchange(ctx, cmd)
	if err != nil {
		return Response{}, err
	}

	if resp.SW&0xFF00 == SWWrongLe {
		cmd.Ne = int(resp.SW2())
		if cmd.Ne == 0 {
			cmd.Ne = MaxShortNe
		}
		if resp, err = c.exchange(ctx, cmd); err != nil {
			return Response{}, err
		}
	}

	data := resp.Data
	for n := 0; resp.SW&0xFF00 == SWBytesAvailable; n++ {
		if n == maxGetResponse {
			return Response{}, ErrResponseChain
		}
		ne := int(resp.SW2())
		if ne == 0 {
			ne = MaxShortNe
		}
		getResponse := Command{CLA: cmd.CLA &^ ClaChaining, INS: 0xC0, Ne: ne}
		if resp, err = c.exchange(ctx, getResponse); err != nil {
			return Response{}, err
		}
		data = append(data, resp.Data...)
	}
	resp.Data = data
	return resp, nil
}

func (c *Channel) exchange(ctx context.Context, cmd Command) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	raw, err := cmd.Bytes()
	if err != nil {
		return Response{}, err
	}
	if c.log != nil {
		c.log.Tracef("> %s", cmd)
	}
	out, err := c.transport.Transmit(ctx, c.slot, raw)
	if err != nil {
		return Response{}, fmt.Errorf("transmit %02X: %w", cmd.INS, err)
	}
	resp, err := ParseResponse(out)
	if err != nil {
		return Response{}, err
	}
	if c.log != nil {
		c.log.Tracef("< SW=%04X len=%d", resp.SW, len(resp.Data))
	}
	return resp, nil
}
