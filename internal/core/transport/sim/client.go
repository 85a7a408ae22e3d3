package sim

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/ticksync/ticksync/internal/core/clock"
	"github.com/ticksync/ticksync/internal/core/transport"
)

var _ transport.Transport = (*Client)(nil)

// Link models one direction of a network path. Each message waits a
// uniform delay in [MinDelay, MaxDelay] plus a uniform jitter in
// [0, Jitter]; DupRate is the probability a delivery arrives twice.
type Link struct {
	MinDelay int64
	MaxDelay int64
	Jitter   int64
	DupRate  float64
}

func (l Link) delay(rng *rand.Rand) int64 {
	d := l.MinDelay
	if span := l.MaxDelay - l.MinDelay; span > 0 {
		d += rng.Int63n(span + 1)
	}
	if l.Jitter > 0 {
		d += rng.Int63n(l.Jitter + 1)
	}
	return d
}

// Options configures one simulated client.
type Options struct {
	// ID prefixes generated post names.
	ID string
	// Skew is added to the virtual clock to model a wrong local clock.
	Skew int64
	// Seed drives this client's private randomness.
	Seed int64

	Uplink   Link
	Downlink Link
}

// Client is a simulated transport bound to a Broker. All activity runs
// on the shared scheduler goroutine, so no locking is needed.
type Client struct {
	sched  *Scheduler
	broker *Broker
	clk    *clock.Clock
	opts   Options
	rng    *rand.Rand

	handlers map[string]transport.Handler
	open     bool
	closed   bool
	nameSeq  int64

	// Links are FIFO, like the TCP stream under a real connection:
	// a later send never overtakes an earlier one.
	upLast   int64
	downLast int64
}

func (c *Client) sendUp(fn func()) {
	at := c.sched.Now() + c.opts.Uplink.delay(c.rng)
	if at < c.upLast {
		at = c.upLast
	}
	c.upLast = at
	c.sched.After(at-c.sched.Now(), fn)
}

func (c *Client) sendDown(fn func()) {
	at := c.sched.Now() + c.opts.Downlink.delay(c.rng)
	if at < c.downLast {
		at = c.downLast
	}
	c.downLast = at
	c.sched.After(at-c.sched.Now(), fn)
}

// NewClient connects a client to the broker and starts its time
// probes. The transport is open immediately; the clock syncs after the
// first probe round-trip.
func NewClient(sched *Scheduler, broker *Broker, opts Options) *Client {
	c := &Client{
		sched:    sched,
		broker:   broker,
		opts:     opts,
		rng:      rand.New(rand.NewSource(opts.Seed)),
		handlers: make(map[string]transport.Handler),
		open:     true,
	}
	c.clk = clock.New(c.localNow)
	c.probe()
	return c
}

func (c *Client) localNow() int64 {
	return c.sched.Now() + c.opts.Skew
}

func (c *Client) probe() {
	if c.closed {
		return
	}
	sentAt := c.localNow()
	c.sendUp(func() {
		serverTime := c.broker.time()
		c.sendDown(func() {
			c.clk.Observe(serverTime, sentAt, c.localNow())
		})
	})
	c.sched.After(clock.ProbeInterval.Milliseconds(), c.probe)
}

// Close stops probing and delivery. Watched rooms are released.
func (c *Client) Close() {
	c.closed = true
	c.open = false
	for room := range c.handlers {
		c.broker.unwatch(room, c)
	}
	c.handlers = make(map[string]transport.Handler)
}

func (c *Client) OnSync(fn func()) {
	c.clk.OnSync(fn)
}

func (c *Client) Watch(room string, h transport.Handler) error {
	if _, ok := c.handlers[room]; ok {
		return transport.ErrDuplicateHandler
	}
	c.handlers[room] = h
	c.sendUp(func() {
		c.broker.watch(room, c)
	})
	return nil
}

func (c *Client) Unwatch(room string) error {
	delete(c.handlers, room)
	c.sendUp(func() {
		c.broker.unwatch(room, c)
	})
	return nil
}

func (c *Client) Load(room string, from int64) error {
	if !c.open {
		return transport.ErrNotOpen
	}
	c.sendUp(func() {
		c.broker.load(room, from, c)
	})
	return nil
}

func (c *Client) Post(room string, data json.RawMessage) (string, error) {
	if !c.open {
		return "", transport.ErrNotOpen
	}
	c.nameSeq++
	name := fmt.Sprintf("%s-%d", c.opts.ID, c.nameSeq)
	clientTime, err := c.clk.ServerTime()
	if err != nil {
		return "", err
	}
	c.sendUp(func() {
		c.broker.append(room, clientTime, name, data)
	})
	return name, nil
}

func (c *Client) ServerTime() (int64, error) {
	return c.clk.ServerTime()
}

func (c *Client) Ping() (int64, bool) {
	return c.clk.Ping()
}

// deliver carries one broker fan-out over the downlink, possibly
// twice.
func (c *Client) deliver(p transport.Post) {
	if c.closed {
		return
	}
	send := func() {
		c.sendDown(func() {
			if h, ok := c.handlers[p.Room]; ok {
				h(p)
			}
		})
	}
	send()
	if c.opts.Downlink.DupRate > 0 && c.rng.Float64() < c.opts.Downlink.DupRate {
		send()
	}
}
