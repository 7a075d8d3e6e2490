package raknet

import (
	"context"
	"net"
	"time"

	pool "github.com/libp2p/go-buffer-pool"
)

const defaultPingTimeout = 5 * time.Second

// Ping asks the server at addr for its MOTD without opening a session. If
// ctx has no deadline the query gives up after 5 seconds.
func Ping(ctx context.Context, addr string) (string, error) {
	remote, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return "", err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultPingTimeout)
		defer cancel()
	}
	pc, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return "", err
	}
	defer pc.Close()

	buf := pool.Get(readBufferSize)
	defer pool.Put(buf)
	guid := newGUID()
	var motd string
	err = exchange(ctx, pc, remote, buf, func(int) []byte {
		return (&unconnectedPing{sendTime: timestamp(), guid: guid}).encode()
	}, func(b []byte) (bool, error) {
		if b[0] != idUnconnectedPong {
			return false, nil
		}
		p, err := decodeUnconnectedPong(b)
		if err != nil {
			log.Debugf("Invalid pong from %v: %v", remote, err)
			return false, nil
		}
		log.Tracef("%v answered in %dms", remote, timestamp()-p.sendTime)
		motd = p.motd
		return true, nil
	})
	return motd, err
}
