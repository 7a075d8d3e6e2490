package raknet

import (
	"context"
	"net"
	"sync"
	"time"

	pool "github.com/libp2p/go-buffer-pool"
)

const (
	readBufferSize   = 4096
	maxPendingEvents = 4096
)

// Server accepts RakNet sessions on one UDP socket.
type Server struct {
	cfg  Config
	guid uint64
	pc   net.PacketConn

	mu    sync.Mutex
	motd  string
	bans  BanList
	conns map[string]*Conn
	// guids maps the GUID of every session to its address
	guids map[uint64]string

	events    *eventList
	chClose   chan struct{}
	closeOnce sync.Once
}

func NewServer(cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:     cfg,
		guid:    newGUID(),
		motd:    cfg.MOTD,
		conns:   make(map[string]*Conn),
		guids:   make(map[uint64]string),
		events:  newEventList(),
		chClose: make(chan struct{}),
	}
}

// Listen binds cfg.Address and starts serving.
func (s *Server) Listen() error {
	pc, err := net.ListenPacket("udp", s.cfg.Address)
	if err != nil {
		return err
	}
	return s.ListenPacketConn(pc)
}

// ListenPacketConn serves on an already bound socket.
func (s *Server) ListenPacketConn(pc net.PacketConn) error {
	s.pc = pc
	log.Debugf("Listening on %v with GUID %d", pc.LocalAddr(), s.guid)
	go s.readLoop()
	go s.tickLoop()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.pc == nil {
		return nil
	}
	return s.pc.LocalAddr()
}

func (s *Server) GUID() uint64 {
	return s.guid
}

func (s *Server) SetMOTD(motd string) {
	s.mu.Lock()
	s.motd = motd
	s.mu.Unlock()
}

func (s *Server) MOTD() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.motd
}

// UseBanList makes the server refuse handshakes from banned IPs.
func (s *Server) UseBanList(bans BanList) {
	s.mu.Lock()
	s.bans = bans
	s.mu.Unlock()
}

// SendTo sends b reliably and in order to the session at addr.
func (s *Server) SendTo(addr net.Addr, b []byte) error {
	c := s.conn(addr)
	if c == nil {
		return ErrNotConnected
	}
	return c.Send(b, ReliableOrdered)
}

// Disconnect ends the session at addr.
func (s *Server) Disconnect(addr net.Addr) error {
	c := s.conn(addr)
	if c == nil {
		return ErrNotConnected
	}
	c.Disconnect()
	return nil
}

// Conn returns the session at addr, or nil.
func (s *Server) Conn(addr net.Addr) *Conn {
	return s.conn(addr)
}

// Recv returns the events reported since the last call without blocking.
func (s *Server) Recv() []Event {
	return s.events.take()
}

// Serve pushes events to h until ctx is done or the server is closed.
func (s *Server) Serve(ctx context.Context, h Handler) error {
	return s.events.serve(ctx, s.chClose, h)
}

func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		now := time.Now()
		for _, c := range s.snapshot() {
			c.Disconnect()
			c.update(now)
			s.collect(c)
		}
		close(s.chClose)
		if s.pc != nil {
			err = s.pc.Close()
		}
	})
	return err
}

func (s *Server) conn(addr net.Addr) *Conn {
	if addr == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[addr.String()]
}

func (s *Server) snapshot() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

func (s *Server) readLoop() {
	buf := pool.Get(readBufferSize)
	defer pool.Put(buf)
	for {
		n, addr, err := s.pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.chClose:
				return
			default:
			}
			log.Errorf("Unable to read from %v: %v", s.pc.LocalAddr(), err)
			s.events.push(Event{Type: EventError, Addr: s.pc.LocalAddr(), Err: err})
			return
		}
		uaddr, ok := addr.(*net.UDPAddr)
		if !ok || n == 0 {
			continue
		}
		s.handle(buf[:n], uaddr, time.Now())
	}
}

func (s *Server) handle(b []byte, addr *net.UDPAddr, now time.Time) {
	c := s.conn(addr)
	if c != nil && b[0]&flagDatagram != 0 {
		c.handle(b, now)
		return
	}
	s.handleOffline(b, addr, c != nil, now)
}

func (s *Server) handleOffline(b []byte, addr *net.UDPAddr, connected bool, now time.Time) {
	switch b[0] {
	case idUnconnectedPing, idUnconnectedPingOpenConnections:
		p, err := decodeUnconnectedPing(b)
		if err != nil {
			log.Tracef("Invalid ping from %v: %v", addr, err)
			return
		}
		s.reply(addr, (&unconnectedPong{sendTime: p.sendTime, guid: s.guid, motd: s.MOTD()}).encode())
	case idOpenConnectionRequest1:
		p, err := decodeOpenConnectionRequest1(b)
		if err != nil {
			log.Tracef("Invalid OpenConnectionRequest1 from %v: %v", addr, err)
			return
		}
		switch {
		case connected:
			s.reply(addr, (&guidReply{id: idAlreadyConnected, guid: s.guid}).encode())
		case s.banned(addr):
			s.reply(addr, (&guidReply{id: idConnectionBanned, guid: s.guid}).encode())
		case p.protocol != s.cfg.ProtocolVersion:
			log.Debugf("%v speaks protocol %d, want %d", addr, p.protocol, s.cfg.ProtocolVersion)
			s.reply(addr, (&incompatibleProtocolVersion{protocol: s.cfg.ProtocolVersion, guid: s.guid}).encode())
		default:
			s.reply(addr, (&openConnectionReply1{guid: s.guid, mtu: uint16(s.clampMTU(int(p.mtu)))}).encode())
		}
	case idOpenConnectionRequest2:
		p, err := decodeOpenConnectionRequest2(b)
		if err != nil {
			log.Tracef("Invalid OpenConnectionRequest2 from %v: %v", addr, err)
			return
		}
		if s.banned(addr) {
			s.reply(addr, (&guidReply{id: idConnectionBanned, guid: s.guid}).encode())
			return
		}
		mtu := s.clampMTU(int(p.mtu))
		if c := s.conn(addr); c != nil && c.remoteGUID == p.guid && c.State() == StateHandshaking {
			// our reply got lost
			s.reply(addr, (&openConnectionReply2{guid: s.guid, clientAddr: addr, mtu: uint16(c.mtu)}).encode())
			return
		}
		if !s.accept(addr, p.guid, mtu, now) {
			s.reply(addr, (&guidReply{id: idAlreadyConnected, guid: s.guid}).encode())
			return
		}
		s.reply(addr, (&openConnectionReply2{guid: s.guid, clientAddr: addr, mtu: uint16(mtu)}).encode())
	default:
		log.Tracef("Ignoring offline packet 0x%02x from %v", b[0], addr)
	}
}

// accept creates the session for addr unless the address or the GUID is
// already taken.
func (s *Server) accept(addr *net.UDPAddr, guid uint64, mtu int, now time.Time) bool {
	key := addr.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.conns[key]; found {
		return false
	}
	if _, found := s.guids[guid]; found {
		return false
	}
	write := func(b []byte) error {
		_, err := s.pc.WriteTo(b, addr)
		return err
	}
	s.conns[key] = newConn(addr, mtu, s.guid, guid, true, &s.cfg, write, now)
	s.guids[guid] = key
	log.Debugf("New session from %v with GUID %d, mtu %d", addr, guid, mtu)
	return true
}

func (s *Server) remove(c *Conn) {
	key := c.addr.String()
	s.mu.Lock()
	if s.conns[key] == c {
		delete(s.conns, key)
		delete(s.guids, c.remoteGUID)
	}
	s.mu.Unlock()
	log.Debugf("Removed session %v", key)
}

func (s *Server) banned(addr *net.UDPAddr) bool {
	s.mu.Lock()
	bans := s.bans
	s.mu.Unlock()
	return bans != nil && bans.IsBanned(addr.IP)
}

func (s *Server) clampMTU(mtu int) int {
	if mtu > s.cfg.MTU {
		mtu = s.cfg.MTU
	}
	if mtu < minMTU {
		mtu = minMTU
	}
	return mtu
}

func (s *Server) reply(addr net.Addr, b []byte) {
	if _, err := s.pc.WriteTo(b, addr); err != nil {
		log.Errorf("Unable to reply to %v: %v", addr, err)
	}
}

func (s *Server) tickLoop() {
	ticker := time.NewTicker(s.cfg.TickInterval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-s.chClose:
			return
		case now := <-ticker.C:
			for _, c := range s.snapshot() {
				c.update(now)
				s.collect(c)
			}
		}
	}
}

// collect moves as many events of c to the application as it has room for,
// dropping c once it reported Disconnected.
func (s *Server) collect(c *Conn) {
	events := c.takeEvents(s.events.room())
	for _, ev := range events {
		if ev.Type == EventDisconnected {
			s.remove(c)
		}
	}
	s.events.push(events...)
}
