package transport

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// NetworkCondition configures link behavior simulation.
// Use this to test reader behavior over slow or lossy links.
type NetworkCondition struct {
	// DropRate is the probability of dropping a packet (0.0 - 1.0).
	DropRate float64

	// DelayMin is the minimum delay to add to each packet.
	DelayMin time.Duration

	// DelayMax is the maximum delay to add to each packet.
	// Actual delay is uniformly distributed between DelayMin and DelayMax.
	DelayMax time.Duration
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables automatic packet delivery in a background goroutine.
	AutoProcess bool

	// ProcessInterval is how often the auto-processor delivers packets.
	// Default: 1ms
	ProcessInterval time.Duration
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
	}
}

// Pipe provides a bidirectional in-memory link between a reader (Conn0) and
// a card (Conn1). It wraps pion's test.Bridge and adds network condition
// simulation. Every Write is delivered as one packet.
//
// By default, Pipe delivers packets in a background goroutine.
// Use SetAutoProcess(false) and Tick or Process for step-by-step control.
type Pipe struct {
	bridge *test.Bridge
	conn0  *pipeConn
	conn1  *pipeConn

	mu              sync.RWMutex
	condition       NetworkCondition
	closed          bool
	rng             *rand.Rand
	autoProcess     bool
	processInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

// NewPipe creates a new pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a new pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	p := &Pipe{
		bridge:          test.NewBridge(),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
	}
	if p.processInterval == 0 {
		p.processInterval = 1 * time.Millisecond
	}
	p.conn0 = &pipeConn{Conn: p.bridge.GetConn0(), pipe: p}
	p.conn1 = &pipeConn{Conn: p.bridge.GetConn1(), pipe: p}

	if p.autoProcess {
		p.startAutoProcess()
	}
	return p
}

func (p *Pipe) startAutoProcess() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.processInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
}

// SetAutoProcess enables or disables automatic packet delivery.
// When disabled, Tick or Process must be called to deliver packets.
func (p *Pipe) SetAutoProcess(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.autoProcess == enabled {
		return
	}
	p.autoProcess = enabled

	if enabled {
		p.stopCh = make(chan struct{})
		p.startAutoProcess()
	} else {
		close(p.stopCh)
		p.wg.Wait()
	}
}

// AutoProcess returns whether auto-processing is enabled.
func (p *Pipe) AutoProcess() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.autoProcess
}

// SetCondition configures network condition simulation.
// The conditions apply to packets in both directions.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Condition returns the current network condition configuration.
func (p *Pipe) Condition() NetworkCondition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.condition
}

// Conn0 returns the reader side of the pipe.
func (p *Pipe) Conn0() net.Conn {
	return p.conn0
}

// Conn1 returns the card side of the pipe.
func (p *Pipe) Conn1() net.Conn {
	return p.conn1
}

// Tick delivers one packet in each direction (if available).
// Returns the number of packets delivered (0, 1, or 2).
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued packets.
// Returns the number of packets delivered.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			break
		}
		count += n
	}
	return count
}

// Close closes both endpoints of the pipe and stops auto-processing.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	err0 := p.bridge.GetConn0().Close()
	err1 := p.bridge.GetConn1().Close()
	if err0 != nil {
		return err0
	}
	return err1
}

// pipeConn applies the pipe's network condition to writes.
type pipeConn struct {
	net.Conn
	pipe *Pipe
}

func (c *pipeConn) Write(b []byte) (int, error) {
	drop, delay := c.pipe.sample()
	if drop {
		return len(b), nil
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return c.Conn.Write(b)
}

// sample draws the fate of one packet.
func (p *Pipe) sample() (drop bool, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cond := p.condition
	if cond.DropRate > 0 && p.rng.Float64() < cond.DropRate {
		return true, 0
	}
	if cond.DelayMax > 0 {
		delay = cond.DelayMin
		if cond.DelayMax > cond.DelayMin {
			delay += time.Duration(p.rng.Int63n(int64(cond.DelayMax - cond.DelayMin)))
		}
	}
	return false, delay
}

var _ net.Conn = (*pipeConn)(nil)
