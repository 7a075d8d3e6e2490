package raknet

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wire records the datagrams a Conn writes.
type wire struct {
	mu        sync.Mutex
	datagrams [][]byte
}

func (w *wire) write(b []byte) error {
	w.mu.Lock()
	w.datagrams = append(w.datagrams, append([]byte(nil), b...))
	w.mu.Unlock()
	return nil
}

func (w *wire) take() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	d := w.datagrams
	w.datagrams = nil
	return d
}

func newTestConn(t *testing.T, server bool) (*Conn, *wire) {
	cfg := DefaultConfig()
	w := &wire{}
	port := 50000
	if server {
		port = 19132
	}
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	return newConn(addr, DefaultMTU, uint64(port), uint64(port+1), server, &cfg, w.write, testNow), w
}

type connPair struct {
	client, server   *Conn
	clientW, serverW *wire
}

func newConnPair(t *testing.T) *connPair {
	client, clientW := newTestConn(t, false)
	server, serverW := newTestConn(t, true)
	return &connPair{client, server, clientW, serverW}
}

// pump ticks both sides and delivers what they wrote until nothing is left
// in flight.
func (p *connPair) pump(now time.Time) {
	for i := 0; i < 20; i++ {
		p.client.update(now)
		p.server.update(now)
		fromClient, fromServer := p.clientW.take(), p.serverW.take()
		if len(fromClient) == 0 && len(fromServer) == 0 {
			return
		}
		for _, d := range fromClient {
			p.server.handle(d, now)
		}
		for _, d := range fromServer {
			p.client.handle(d, now)
		}
	}
}

func (p *connPair) connect(t *testing.T) {
	p.client.requestConnection()
	p.pump(testNow)
	for _, c := range []*Conn{p.client, p.server} {
		events := c.drainEvents()
		require.Len(t, events, 1)
		assert.Equal(t, EventConnected, events[0].Type)
		assert.Equal(t, StateConnected, c.State())
	}
}

func packets(events []Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Type == EventPacket {
			out = append(out, string(ev.Data))
		}
	}
	return out
}

func TestConnHandshake(t *testing.T) {
	p := newConnPair(t)
	p.connect(t)
	assert.EqualValues(t, 50001, p.client.GUID())
	assert.EqualValues(t, 19133, p.server.GUID())

	// a second ConnectionRequest doesn't report Connected again
	p.client.requestConnection()
	p.pump(testNow)
	assert.Empty(t, p.server.drainEvents())
}

func TestConnSend(t *testing.T) {
	p := newConnPair(t)
	p.connect(t)

	require.NoError(t, p.client.Send([]byte("hello"), ReliableOrdered))
	require.NoError(t, p.server.Send([]byte("world"), Reliable))
	require.NoError(t, p.server.Send([]byte("!"), Unreliable))
	p.pump(testNow)
	assert.Equal(t, []string{"hello"}, packets(p.server.drainEvents()))
	assert.Equal(t, []string{"world", "!"}, packets(p.client.drainEvents()))

	assert.ErrorIs(t, p.client.Send(nil, ReliableOrdered), ErrEmptyFrame)
	assert.ErrorIs(t, p.client.Send([]byte("x"), Reliability(9)), ErrUnknownReliability)
}

func TestConnSplit(t *testing.T) {
	p := newConnPair(t)
	p.connect(t)

	big := make([]byte, 5000)
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, p.client.Send(big, ReliableOrdered))
	require.NoError(t, p.client.Send([]byte("after"), ReliableOrdered))
	p.pump(testNow)
	events := p.server.drainEvents()
	require.Len(t, events, 2)
	assert.Equal(t, big, events[0].Data)
	assert.Equal(t, "after", string(events[1].Data))

	huge := make([]byte, (DefaultMTU-fragmentHeadroom)*maxSplitCount+1)
	assert.ErrorIs(t, p.client.Send(huge, ReliableOrdered), ErrMessageTooLarge)
}

func TestConnNackAndOrdering(t *testing.T) {
	p := newConnPair(t)
	p.connect(t)

	require.NoError(t, p.client.Send([]byte("a"), ReliableOrdered))
	p.client.update(testNow)
	lost := p.clientW.take()
	require.Len(t, lost, 1)

	require.NoError(t, p.client.Send([]byte("b"), ReliableOrdered))
	p.pump(testNow)
	// the gap is nacked right away and "b" waits for "a"
	assert.Equal(t, []string{"a", "b"}, packets(p.server.drainEvents()))

	// the lost datagram showing up late changes nothing
	p.server.handle(lost[0], testNow)
	assert.Empty(t, p.server.drainEvents())
}

func TestConnOrderedBacklog(t *testing.T) {
	p := newConnPair(t)
	p.connect(t)

	require.NoError(t, p.client.Send([]byte("first"), ReliableOrdered))
	p.client.update(testNow)
	require.Len(t, p.clientW.take(), 1)

	// more than the order window and the event queue hold, all behind the gap
	expected := []string{"first"}
	for i := 0; i < windowSize+10; i++ {
		msg := fmt.Sprintf("m%d", i)
		expected = append(expected, msg)
		require.NoError(t, p.client.Send([]byte(msg), ReliableOrdered))
	}

	var got []string
	now := testNow
	for i := 0; i < 20 && len(got) < len(expected); i++ {
		p.pump(now)
		got = append(got, packets(p.server.drainEvents())...)
		now = now.Add(2 * time.Second)
	}
	require.Len(t, got, len(expected), "every message should arrive exactly once")
	assert.Equal(t, expected, got)

	p.pump(now)
	assert.Zero(t, p.client.sendQueue.len(), "everything should be acked")
	require.NoError(t, p.client.Send([]byte("later"), ReliableOrdered))
	p.pump(now)
	assert.Equal(t, []string{"later"}, packets(p.server.drainEvents()))
}

func TestConnHoldsBackWhenEventsPileUp(t *testing.T) {
	p := newConnPair(t)
	p.connect(t)

	room := p.server.events.room()
	for i := 0; i < room; i++ {
		require.NoError(t, p.client.Send([]byte(fmt.Sprintf("m%d", i)), Reliable))
	}
	p.pump(testNow)
	// nobody takes the events, so frame sets that don't fit stay unacked
	got := packets(p.server.takeEvents(room))
	assert.True(t, len(got) <= room-reservedEvents)
	assert.NotZero(t, p.client.sendQueue.len())

	later := testNow.Add(2 * time.Second)
	p.pump(later)
	got = append(got, packets(p.server.drainEvents())...)
	var expected []string
	for i := 0; i < room; i++ {
		expected = append(expected, fmt.Sprintf("m%d", i))
	}
	assert.ElementsMatch(t, expected, got)
	assert.Zero(t, p.client.sendQueue.len())
}

func TestConnResendAfterInterval(t *testing.T) {
	p := newConnPair(t)
	p.connect(t)

	require.NoError(t, p.client.Send([]byte("a"), ReliableOrdered))
	p.client.update(testNow)
	require.Len(t, p.clientW.take(), 1)

	p.client.update(testNow.Add(500 * time.Millisecond))
	assert.Empty(t, p.clientW.take())

	later := testNow.Add(1100 * time.Millisecond)
	p.pump(later)
	assert.Equal(t, []string{"a"}, packets(p.server.drainEvents()))

	// acked, nothing more to resend
	p.client.update(later.Add(3 * time.Second))
	assert.Empty(t, p.clientW.take())
}

func TestConnDuplicateDatagram(t *testing.T) {
	p := newConnPair(t)
	p.connect(t)

	require.NoError(t, p.client.Send([]byte("once"), ReliableOrdered))
	p.client.update(testNow)
	datagrams := p.clientW.take()
	require.Len(t, datagrams, 1)
	p.server.handle(datagrams[0], testNow)
	p.server.handle(datagrams[0], testNow)
	assert.Equal(t, []string{"once"}, packets(p.server.drainEvents()))
}

func TestConnDisconnect(t *testing.T) {
	p := newConnPair(t)
	p.connect(t)

	p.client.Disconnect()
	events := p.client.drainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventDisconnected, events[0].Type)
	assert.Equal(t, ReasonDisconnect, events[0].Reason)
	assert.ErrorIs(t, p.client.Send([]byte("x"), ReliableOrdered), ErrClosed)

	p.pump(testNow)
	events = p.server.drainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventDisconnected, events[0].Type)
	assert.Equal(t, ReasonDisconnect, events[0].Reason)
	assert.Equal(t, StateClosed, p.server.State())
	assert.Equal(t, StateClosed, p.client.State())

	p.client.Disconnect()
	assert.Empty(t, p.client.drainEvents(), "Disconnected is reported only once")
}

func TestConnTimeout(t *testing.T) {
	c, w := newTestConn(t, true)
	c.update(testNow.Add(5 * time.Second))
	assert.Empty(t, c.drainEvents())

	c.update(testNow.Add(11 * time.Second))
	events := c.drainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventDisconnected, events[0].Type)
	assert.Equal(t, ReasonTimeout, events[0].Reason)
	require.Len(t, w.take(), 1, "Disconnected notice should be sent")

	c.update(testNow.Add(20 * time.Second))
	assert.Empty(t, c.drainEvents())
	assert.Empty(t, w.take())
}

func TestConnKeepalive(t *testing.T) {
	p := newConnPair(t)
	p.connect(t)

	later := testNow.Add(6 * time.Second)
	p.server.update(later)
	datagrams := p.serverW.take()
	require.Len(t, datagrams, 1)
	set, err := decodeFrameSet(datagrams[0])
	require.NoError(t, err)
	require.Len(t, set.frames, 1)
	assert.Equal(t, Unreliable, set.frames[0].reliability)
	assert.Equal(t, idConnectedPing, set.frames[0].payload[0])

	p.client.handle(datagrams[0], later)
	p.client.update(later)
	datagrams = p.clientW.take()
	require.Len(t, datagrams, 2, "pong and ack")
	set, err = decodeFrameSet(datagrams[0])
	require.NoError(t, err)
	assert.Equal(t, idConnectedPong, set.frames[0].payload[0])
}

func TestConnRoleChecks(t *testing.T) {
	p := newConnPair(t)
	accepted := (&connectionRequestAccepted{clientAddr: p.client.addr}).encode()
	p.server.mu.Lock()
	p.server.handlePayload(accepted, testNow)
	p.server.mu.Unlock()
	assert.Empty(t, p.server.drainEvents())
	assert.Equal(t, StateHandshaking, p.server.State())

	nic := (&newIncomingConnection{serverAddr: p.server.addr}).encode()
	p.client.mu.Lock()
	p.client.handlePayload(nic, testNow)
	p.client.mu.Unlock()
	p.server.mu.Lock()
	p.server.handlePayload(nic[:10], testNow)
	p.server.mu.Unlock()
	assert.Empty(t, p.client.drainEvents())
	assert.Empty(t, p.server.drainEvents())

	request := (&connectionRequest{guid: 1}).encode()
	p.client.mu.Lock()
	p.client.handlePayload(request, testNow)
	p.client.mu.Unlock()
	assert.Empty(t, p.client.drainEvents())
	assert.Equal(t, StateHandshaking, p.client.State())
}

func TestConnDropsPacketsBeforeHandshake(t *testing.T) {
	c, _ := newTestConn(t, true)
	c.mu.Lock()
	c.handlePayload([]byte{0xfe, 1, 2, 3}, testNow)
	c.mu.Unlock()
	assert.Empty(t, c.drainEvents())
}
