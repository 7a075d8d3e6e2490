package raknet

import (
	"net"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/getlantern/ema"
	pool "github.com/libp2p/go-buffer-pool"
)

type ConnState int

const (
	StateHandshaking ConnState = iota
	StateConnected
	StateDisconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "closed"
}

// datagram is an encoded packet waiting to be written. Pooled buffers go
// back to the pool once written.
type datagram struct {
	b      []byte
	pooled bool
}

// Conn is one RakNet session with a remote peer. All state is guarded by mu
// and no I/O happens while holding it: the locked methods return the
// datagrams to write and the caller writes them after unlocking.
type Conn struct {
	addr       *net.UDPAddr
	localGUID  uint64
	remoteGUID uint64
	mtu        int
	server     bool
	cfg        *Config
	write      func([]byte) error

	mu                sync.Mutex
	state             ConnState
	sendQueue         *sendQueue
	ackQueue          *ackQueue
	messages          *messageWindow
	orderQueues       map[byte]*orderQueue
	sequencers        map[byte]*sequencer
	splits            *splitQueue
	nextMessageIndex  uint32
	nextOrderIndex    uint32
	nextSequenceIndex uint32
	nextSplitID       uint16
	lastReceive       time.Time
	lastPing          time.Time
	events            *eventQueue
	chConnected       chan struct{}
	emaRTT            *ema.EMA
}

func newConn(addr *net.UDPAddr, mtu int, localGUID, remoteGUID uint64, server bool, cfg *Config, write func([]byte) error, now time.Time) *Conn {
	return &Conn{
		addr:        addr,
		localGUID:   localGUID,
		remoteGUID:  remoteGUID,
		mtu:         mtu,
		server:      server,
		cfg:         cfg,
		write:       write,
		sendQueue:   newSendQueue(mtu, cfg.ResendInterval.Duration),
		ackQueue:    newAckQueue(),
		messages:    newMessageWindow(),
		orderQueues: make(map[byte]*orderQueue),
		sequencers:  make(map[byte]*sequencer),
		splits:      newSplitQueue(),
		lastReceive: now,
		lastPing:    now,
		events:      newEventQueue(cfg.EventBuffer, cfg.RecoveryBuffer),
		chConnected: make(chan struct{}),
		emaRTT:      ema.NewDuration(time.Second, 0.1),
	}
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.addr
}

// GUID is the identifier the remote peer announced.
func (c *Conn) GUID() uint64 {
	return c.remoteGUID
}

func (c *Conn) MTU() int {
	return c.mtu
}

// RTT is the moving average of the round trip time measured by pings.
func (c *Conn) RTT() time.Duration {
	return c.emaRTT.GetDuration()
}

func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send queues b for delivery with the given reliability. It is written on
// the next tick.
func (c *Conn) Send(b []byte, reliability Reliability) error {
	if !reliability.valid() {
		return ErrUnknownReliability
	}
	if len(b) == 0 {
		return ErrEmptyFrame
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state >= StateDisconnecting {
		return ErrClosed
	}
	return c.queuePayload(append([]byte(nil), b...), reliability)
}

// Disconnect tells the peer the session is over and reports Disconnected
// right away.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.disconnect(ReasonDisconnect)
	c.mu.Unlock()
}

func (c *Conn) queuePayload(b []byte, reliability Reliability) error {
	if len(b) < c.mtu-messageHeadroom {
		f := &frame{reliability: reliability, payload: b}
		c.stamp(f)
		c.sendQueue.addFrame(f)
		return nil
	}
	fragmentSize := c.mtu - fragmentHeadroom
	count := (len(b) + fragmentSize - 1) / fragmentSize
	if count > maxSplitCount {
		return ErrMessageTooLarge
	}
	// fragments must arrive for the message to be rebuilt
	switch reliability {
	case Unreliable:
		reliability = Reliable
	case UnreliableSequenced:
		reliability = ReliableSequenced
	case UnreliableACKReceipt:
		reliability = ReliableACKReceipt
	}
	template := frame{reliability: reliability}
	c.stampOrder(&template)
	id := c.nextSplitID
	c.nextSplitID++
	log.Debugf("Splitting %v for %v into %d fragments", humanize.Bytes(uint64(len(b))), c.addr, count)
	for i := 0; i < count; i++ {
		end := (i + 1) * fragmentSize
		if end > len(b) {
			end = len(b)
		}
		f := template
		f.split = true
		f.splitCount = uint32(count)
		f.splitID = id
		f.splitIndex = uint32(i)
		f.payload = b[i*fragmentSize : end]
		f.messageIndex = c.nextMessageIndex
		c.nextMessageIndex++
		c.sendQueue.addFrame(&f)
	}
	return nil
}

// stamp assigns the indices a single frame needs.
func (c *Conn) stamp(f *frame) {
	if f.reliability.reliable() {
		f.messageIndex = c.nextMessageIndex
		c.nextMessageIndex++
	}
	c.stampOrder(f)
}

func (c *Conn) stampOrder(f *frame) {
	if f.reliability.sequenced() {
		f.sequenceIndex = c.nextSequenceIndex
		c.nextSequenceIndex++
		f.orderIndex = c.nextOrderIndex
	}
	if f.reliability.ordered() {
		f.orderIndex = c.nextOrderIndex
		c.nextOrderIndex++
	}
}

func (c *Conn) queueControl(b []byte, reliability Reliability) {
	if err := c.queuePayload(b, reliability); err != nil {
		log.Errorf("Unable to queue control packet 0x%02x for %v: %v", b[0], c.addr, err)
	}
}

// requestConnection starts the connected half of the handshake on the
// client side.
func (c *Conn) requestConnection() {
	c.mu.Lock()
	c.queueControl((&connectionRequest{guid: c.localGUID, sendTime: timestamp()}).encode(), ReliableOrdered)
	c.mu.Unlock()
}

// handle processes one datagram received from the peer.
func (c *Conn) handle(b []byte, now time.Time) {
	c.mu.Lock()
	out := c.handleLocked(b, now)
	c.mu.Unlock()
	c.writeAll(out)
}

func (c *Conn) handleLocked(b []byte, now time.Time) []datagram {
	if len(b) == 0 || c.state >= StateDisconnecting {
		return nil
	}
	c.lastReceive = now
	switch {
	case b[0]&flagAck != 0:
		p, err := decodeAckPacket(b)
		if err != nil {
			log.Debugf("Invalid ack from %v: %v", c.addr, err)
			return nil
		}
		for _, r := range p.ranges {
			c.sendQueue.receivedRange(r)
		}
	case b[0]&flagNack != 0:
		p, err := decodeAckPacket(b)
		if err != nil {
			log.Debugf("Invalid nack from %v: %v", c.addr, err)
			return nil
		}
		for _, r := range p.ranges {
			c.sendQueue.resendRange(r)
		}
	case b[0]&flagDatagram != 0:
		set, err := decodeFrameSet(b)
		if err != nil {
			log.Debugf("Invalid frame set from %v: %v", c.addr, err)
			return nil
		}
		var fresh bool
		var missing []uint32
		if c.accepts(set) {
			fresh, missing = c.ackQueue.add(set.sequence)
		} else {
			log.Debugf("No room for frame set #%d from %v yet, leaving it unacked", set.sequence, c.addr)
			missing = c.ackQueue.skip(set.sequence)
		}
		var out []datagram
		if len(missing) > 0 {
			for _, nack := range encodeAcks(true, toRanges(missing), c.mtu) {
				out = append(out, datagram{b: nack})
			}
		}
		if !fresh {
			return out
		}
		for _, f := range set.frames {
			c.handleFrame(f, now)
		}
		c.releaseOrdered(now)
		return out
	default:
		log.Tracef("Ignoring packet 0x%02x from %v", b[0], c.addr)
	}
	return nil
}

// accepts reports whether every frame of set can be taken in right now: the
// indices fit the receive windows, a new split message has a free entry and
// the event queue has room for whatever the frames may deliver. Acking a set
// that can't be taken in would lose its frames for good.
func (c *Conn) accepts(set *frameSet) bool {
	if c.events.room() < len(set.frames)+reservedEvents {
		return false
	}
	var splitIDs []uint16
	for _, f := range set.frames {
		if f.reliability.reliable() {
			if c.messages.has(f.messageIndex) {
				continue
			}
			if !c.messages.fits(f.messageIndex) {
				return false
			}
		}
		if f.reliability.ordered() && !c.orderQueue(f.orderChannel).fits(f.orderIndex) {
			return false
		}
		if f.split && c.splits.isNew(f) && !containsID(splitIDs, f.splitID) {
			splitIDs = append(splitIDs, f.splitID)
		}
	}
	return len(splitIDs) <= c.splits.room()
}

func containsID(ids []uint16, id uint16) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (c *Conn) orderQueue(channel byte) *orderQueue {
	q := c.orderQueues[channel]
	if q == nil {
		q = newOrderQueue(windowSize)
		c.orderQueues[channel] = q
	}
	return q
}

// releaseOrdered delivers the ordered payloads that are ready, no more than
// the event queue can take. The rest wait in their order queue for the next
// tick.
func (c *Conn) releaseOrdered(now time.Time) {
	for _, q := range c.orderQueues {
		for _, payload := range q.take(c.events.room() - reservedEvents) {
			c.handlePayload(payload, now)
		}
	}
}

func (c *Conn) handleFrame(f *frame, now time.Time) {
	if f.reliability.reliable() && !c.messages.add(f.messageIndex) {
		return
	}
	if f.split {
		c.splits.add(f)
		for _, whole := range c.splits.getAndClear() {
			c.handleOrdering(whole, now)
		}
		return
	}
	c.handleOrdering(f, now)
}

func (c *Conn) handleOrdering(f *frame, now time.Time) {
	switch {
	case f.reliability.ordered():
		c.orderQueue(f.orderChannel).add(f.orderIndex, f.payload)
	case f.reliability.sequenced():
		s := c.sequencers[f.orderChannel]
		if s == nil {
			s = &sequencer{}
			c.sequencers[f.orderChannel] = s
		}
		if s.accept(f.sequenceIndex) {
			c.handlePayload(f.payload, now)
		}
	default:
		c.handlePayload(f.payload, now)
	}
}

func (c *Conn) handlePayload(b []byte, now time.Time) {
	if c.state >= StateDisconnecting {
		return
	}
	switch b[0] {
	case idConnectedPing:
		p, err := decodeConnectedPing(b)
		if err != nil {
			log.Debugf("Invalid ping from %v: %v", c.addr, err)
			return
		}
		c.queueControl((&connectedPong{pingTime: p.sendTime, pongTime: timestamp()}).encode(), Unreliable)
	case idConnectedPong:
		p, err := decodeConnectedPong(b)
		if err != nil {
			log.Debugf("Invalid pong from %v: %v", c.addr, err)
			return
		}
		if rtt := timestamp() - p.pingTime; rtt >= 0 {
			c.emaRTT.UpdateDuration(time.Duration(rtt) * time.Millisecond)
		}
	case idConnectionRequest:
		if !c.server {
			log.Debugf("Client got ConnectionRequest from %v, ignoring", c.addr)
			return
		}
		p, err := decodeConnectionRequest(b)
		if err != nil {
			log.Debugf("Invalid ConnectionRequest from %v: %v", c.addr, err)
			return
		}
		accepted := &connectionRequestAccepted{clientAddr: c.addr, requestTime: p.sendTime, acceptedTime: timestamp()}
		c.queueControl(accepted.encode(), ReliableOrdered)
		c.connected()
	case idConnectionRequestAccepted:
		if c.server {
			log.Debugf("Server got ConnectionRequestAccepted from %v, ignoring", c.addr)
			return
		}
		p, err := decodeConnectionRequestAccepted(b)
		if err != nil {
			log.Debugf("Invalid ConnectionRequestAccepted from %v: %v", c.addr, err)
			return
		}
		nic := &newIncomingConnection{serverAddr: c.addr, requestTime: p.acceptedTime, acceptedTime: timestamp()}
		c.queueControl(nic.encode(), ReliableOrdered)
		c.queueControl((&connectedPing{sendTime: timestamp()}).encode(), Unreliable)
		c.lastPing = now
		c.connected()
	case idNewIncomingConnection:
		if !c.server {
			log.Debugf("Client got NewIncomingConnection from %v, ignoring", c.addr)
			return
		}
		p, err := decodeNewIncomingConnection(b)
		if err != nil {
			log.Debugf("Invalid NewIncomingConnection from %v: %v", c.addr, err)
			return
		}
		log.Tracef("%v finished the handshake, reaching us at %v", c.addr, p.serverAddr)
	case idDisconnected:
		log.Debugf("%v disconnected", c.addr)
		c.disconnect(ReasonDisconnect)
	default:
		if c.state != StateConnected {
			log.Debugf("Dropping %v from %v before the handshake finished", humanize.Bytes(uint64(len(b))), c.addr)
			return
		}
		c.events.push(Event{Type: EventPacket, Addr: c.addr, GUID: c.remoteGUID, Data: b})
	}
}

func (c *Conn) connected() {
	if c.state != StateHandshaking {
		return
	}
	c.state = StateConnected
	close(c.chConnected)
	c.events.push(Event{Type: EventConnected, Addr: c.addr, GUID: c.remoteGUID})
}

// disconnect queues a Disconnected notice for the peer and reports the
// Disconnected event. Only the first call has any effect.
func (c *Conn) disconnect(reason DisconnectReason) {
	if c.state >= StateDisconnecting {
		return
	}
	c.queueControl([]byte{idDisconnected}, ReliableOrdered)
	c.state = StateDisconnecting
	c.events.push(Event{Type: EventDisconnected, Addr: c.addr, GUID: c.remoteGUID, Reason: reason})
}

// update runs one tick: parked events, timeout, keepalive, retransmission
// and acks, in that order.
func (c *Conn) update(now time.Time) {
	c.mu.Lock()
	out := c.updateLocked(now)
	c.mu.Unlock()
	c.writeAll(out)
}

func (c *Conn) updateLocked(now time.Time) []datagram {
	c.events.drainRecovery()
	if c.state == StateClosed {
		return nil
	}
	c.releaseOrdered(now)
	if c.state < StateDisconnecting && now.Sub(c.lastReceive) > c.cfg.ReceiveTimeout.Duration {
		log.Debugf("%v timed out after %v", c.addr, now.Sub(c.lastReceive))
		c.disconnect(ReasonTimeout)
	}
	if c.state == StateConnected && now.Sub(c.lastPing) >= c.cfg.PingInterval.Duration {
		c.queueControl((&connectedPing{sendTime: timestamp()}).encode(), Unreliable)
		c.lastPing = now
	}
	var out []datagram
	for _, set := range c.sendQueue.getPackets(now) {
		out = append(out, datagram{b: set.encode(), pooled: true})
	}
	if c.state == StateDisconnecting {
		// the Disconnected notice went out with the batch above
		c.state = StateClosed
		return out
	}
	if ranges := c.ackQueue.sendableAndClear(); len(ranges) > 0 {
		for _, ack := range encodeAcks(false, ranges, c.mtu) {
			out = append(out, datagram{b: ack})
		}
	}
	return out
}

func (c *Conn) writeAll(out []datagram) {
	for _, d := range out {
		if err := c.write(d.b); err != nil {
			log.Errorf("Unable to write %v to %v: %v", humanize.Bytes(uint64(len(d.b))), c.addr, err)
		} else {
			log.Tracef("Done writing %v bytes to %v", len(d.b), c.addr)
		}
		if d.pooled {
			pool.Put(d.b)
		}
	}
}

// drainEvents returns the events reported since the last call.
func (c *Conn) drainEvents() []Event {
	return c.takeEvents(-1)
}

// takeEvents returns at most limit of the events reported since the last
// call. The rest stay queued and hold back new frame sets until taken.
func (c *Conn) takeEvents(limit int) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events.drain(limit)
}
