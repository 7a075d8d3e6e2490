package raknet

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	pool "github.com/libp2p/go-buffer-pool"
)

const (
	handshakeRetryInterval = 500 * time.Millisecond
	// OpenConnectionRequest1 attempts before trying a smaller MTU
	attemptsPerMTU = 4
)

var candidateMTUs = []int{DefaultMTU, 1200, minMTU}

// Client is a single RakNet session to a server.
type Client struct {
	cfg    Config
	guid   uint64
	remote *net.UDPAddr

	mu   sync.Mutex
	pc   net.PacketConn
	conn *Conn

	events    *eventList
	chClose   chan struct{}
	closeOnce sync.Once
}

func NewClient(remote string, cfg Config) (*Client, error) {
	addr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:     cfg.withDefaults(),
		guid:    newGUID(),
		remote:  addr,
		events:  newEventList(),
		chClose: make(chan struct{}),
	}, nil
}

// Connect binds an ephemeral port and performs the handshake. It returns
// once the session is established or fails, bounded by ConnectTimeout.
func (c *Client) Connect(ctx context.Context) error {
	pc, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return err
	}
	if err := c.ConnectPacketConn(ctx, pc); err != nil {
		pc.Close()
		return err
	}
	return nil
}

// ConnectPacketConn performs the handshake over an already bound socket.
func (c *Client) ConnectPacketConn(ctx context.Context, pc net.PacketConn) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout.Duration)
	defer cancel()
	mtu, serverGUID, err := c.openConnection(ctx, pc)
	if err != nil {
		return err
	}
	if err := pc.SetReadDeadline(time.Time{}); err != nil {
		return err
	}
	write := func(b []byte) error {
		_, err := pc.WriteTo(b, c.remote)
		return err
	}
	conn := newConn(c.remote, mtu, c.guid, serverGUID, false, &c.cfg, write, time.Now())
	c.mu.Lock()
	c.pc = pc
	c.conn = conn
	c.mu.Unlock()
	conn.requestConnection()
	log.Debugf("Opened session to %v with GUID %d, mtu %d", c.remote, serverGUID, mtu)
	go c.readLoop(pc, conn)
	go c.tickLoop(conn)

	select {
	case <-conn.chConnected:
		return nil
	case <-ctx.Done():
		c.Close()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &RemoteClosedError{Addr: c.remote}
		}
		return ctx.Err()
	}
}

// openConnection runs the offline handshake and returns the negotiated MTU
// and the server GUID.
func (c *Client) openConnection(ctx context.Context, pc net.PacketConn) (int, uint64, error) {
	buf := pool.Get(readBufferSize)
	defer pool.Put(buf)

	var mtus []int
	for _, mtu := range candidateMTUs {
		if mtu <= c.cfg.MTU {
			mtus = append(mtus, mtu)
		}
	}
	if len(mtus) == 0 || mtus[0] != c.cfg.MTU {
		mtus = append([]int{c.cfg.MTU}, mtus...)
	}
	var reply1 *openConnectionReply1
	err := exchange(ctx, pc, c.remote, buf, func(attempt int) []byte {
		mtu := mtus[len(mtus)-1]
		if i := attempt / attemptsPerMTU; i < len(mtus) {
			mtu = mtus[i]
		}
		return (&openConnectionRequest1{protocol: c.cfg.ProtocolVersion, mtu: uint16(mtu)}).encode()
	}, func(b []byte) (bool, error) {
		switch b[0] {
		case idOpenConnectionReply1:
			p, err := decodeOpenConnectionReply1(b)
			if err != nil {
				return false, nil
			}
			reply1 = p
			return true, nil
		}
		return false, c.refusal(b)
	})
	if err != nil {
		return 0, 0, err
	}

	mtu := int(reply1.mtu)
	if mtu > c.cfg.MTU || mtu < minMTU {
		mtu = c.cfg.MTU
	}
	var reply2 *openConnectionReply2
	err = exchange(ctx, pc, c.remote, buf, func(int) []byte {
		return (&openConnectionRequest2{serverAddr: c.remote, mtu: uint16(mtu), guid: c.guid}).encode()
	}, func(b []byte) (bool, error) {
		switch b[0] {
		case idOpenConnectionReply2:
			p, err := decodeOpenConnectionReply2(b)
			if err != nil {
				return false, nil
			}
			reply2 = p
			return true, nil
		}
		return false, c.refusal(b)
	})
	if err != nil {
		return 0, 0, err
	}
	if negotiated := int(reply2.mtu); negotiated >= minMTU && negotiated < mtu {
		mtu = negotiated
	}
	return mtu, reply1.guid, nil
}

// refusal turns the server's reasons for refusing a handshake into errors.
func (c *Client) refusal(b []byte) error {
	switch b[0] {
	case idIncompatibleProtocolVersion:
		p, err := decodeIncompatibleProtocolVersion(b)
		if err != nil {
			return nil
		}
		return &IncompatibleProtocolVersionError{Server: p.protocol, Client: c.cfg.ProtocolVersion}
	case idAlreadyConnected:
		if _, err := decodeGUIDReply(b); err == nil {
			return &AlreadyConnectedError{Addr: c.remote}
		}
	case idConnectionBanned:
		if _, err := decodeGUIDReply(b); err == nil {
			return &BannedError{Addr: c.remote}
		}
	}
	return nil
}

// exchange writes the request built for each attempt until accept reports
// done, resending every handshakeRetryInterval. It fails with
// RemoteClosedError once ctx expires.
func exchange(ctx context.Context, pc net.PacketConn, remote *net.UDPAddr, buf []byte, request func(attempt int) []byte, accept func(b []byte) (bool, error)) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return &RemoteClosedError{Addr: remote}
			}
			return err
		}
		if _, err := pc.WriteTo(request(attempt), remote); err != nil {
			return err
		}
		deadline := time.Now().Add(handshakeRetryInterval)
		if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
			deadline = dl
		}
		if err := pc.SetReadDeadline(deadline); err != nil {
			return err
		}
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					break
				}
				return err
			}
			if n == 0 || !sameAddr(addr, remote) {
				continue
			}
			done, err := accept(buf[:n])
			if err != nil || done {
				return err
			}
		}
	}
}

func sameAddr(a net.Addr, b *net.UDPAddr) bool {
	ua, ok := a.(*net.UDPAddr)
	return ok && ua.Port == b.Port && ua.IP.Equal(b.IP)
}

func (c *Client) readLoop(pc net.PacketConn, conn *Conn) {
	buf := pool.Get(readBufferSize)
	defer pool.Put(buf)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-c.chClose:
				return
			default:
			}
			log.Errorf("Unable to read from %v: %v", pc.LocalAddr(), err)
			c.events.push(Event{Type: EventError, Addr: c.remote, Err: err})
			return
		}
		if n == 0 || !sameAddr(addr, c.remote) {
			continue
		}
		if buf[0]&flagDatagram == 0 {
			log.Tracef("Ignoring offline packet 0x%02x from %v", buf[0], addr)
			continue
		}
		conn.handle(buf[:n], time.Now())
	}
}

// tickLoop drives the session until it reported Disconnected.
func (c *Client) tickLoop(conn *Conn) {
	ticker := time.NewTicker(c.cfg.TickInterval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-c.chClose:
			return
		case now := <-ticker.C:
			conn.update(now)
			events := conn.takeEvents(c.events.room())
			c.events.push(events...)
			for _, ev := range events {
				if ev.Type == EventDisconnected {
					c.shutdown()
					return
				}
			}
		}
	}
}

func (c *Client) GUID() uint64 {
	return c.guid
}

// Conn returns the session, or nil before Connect.
func (c *Client) Conn() *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Send sends b reliably and in order to the server.
func (c *Client) Send(b []byte) error {
	conn := c.Conn()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(b, ReliableOrdered)
}

// Disconnect ends the session. The Disconnected event is reported right away
// and the client shuts down on the next tick.
func (c *Client) Disconnect() error {
	conn := c.Conn()
	if conn == nil {
		return ErrNotConnected
	}
	conn.Disconnect()
	return nil
}

// Recv returns the events reported since the last call without blocking.
func (c *Client) Recv() []Event {
	return c.events.take()
}

// Serve pushes events to h until ctx is done or the client is closed.
func (c *Client) Serve(ctx context.Context, h Handler) error {
	return c.events.serve(ctx, c.chClose, h)
}

// Close disconnects if needed and releases the socket.
func (c *Client) Close() error {
	conn := c.Conn()
	if conn != nil && conn.State() < StateDisconnecting {
		conn.Disconnect()
		conn.update(time.Now())
		c.events.push(conn.drainEvents()...)
	}
	return c.shutdown()
}

func (c *Client) shutdown() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.chClose)
		c.mu.Lock()
		pc := c.pc
		c.mu.Unlock()
		if pc != nil {
			err = pc.Close()
		}
	})
	return err
}
