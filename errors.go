package raknet

import (
	"fmt"
	"net"
)

// IncompatibleProtocolVersionError is returned by Client.Connect when the
// server speaks another protocol version.
type IncompatibleProtocolVersionError struct {
	Server byte
	Client byte
}

func (e *IncompatibleProtocolVersionError) Error() string {
	return fmt.Sprintf("incompatible protocol version: server %d, client %d", e.Server, e.Client)
}

// AlreadyConnectedError is returned when the server already holds a session
// for the same address or GUID.
type AlreadyConnectedError struct {
	Addr net.Addr
}

func (e *AlreadyConnectedError) Error() string {
	return fmt.Sprintf("already connected to %v", e.Addr)
}

// RemoteClosedError means the remote peer stopped answering.
type RemoteClosedError struct {
	Addr net.Addr
}

func (e *RemoteClosedError) Error() string {
	return fmt.Sprintf("remote %v closed", e.Addr)
}

// BannedError is returned when the server refuses the client's address.
type BannedError struct {
	Addr net.Addr
}

func (e *BannedError) Error() string {
	return fmt.Sprintf("banned by %v", e.Addr)
}
