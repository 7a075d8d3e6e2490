package raknet

import "fmt"

// Reliability selects the delivery guarantees of a single frame.
type Reliability byte

const (
	Unreliable Reliability = iota
	UnreliableSequenced
	Reliable
	ReliableOrdered
	ReliableSequenced
	UnreliableACKReceipt
	ReliableACKReceipt
	ReliableOrderedACKReceipt
)

func (r Reliability) valid() bool {
	return r <= ReliableOrderedACKReceipt
}

// reliable frames carry a message index and are deduplicated by it.
func (r Reliability) reliable() bool {
	switch r {
	case Reliable, ReliableOrdered, ReliableSequenced, ReliableACKReceipt, ReliableOrderedACKReceipt:
		return true
	}
	return false
}

func (r Reliability) ordered() bool {
	return r == ReliableOrdered || r == ReliableOrderedACKReceipt
}

func (r Reliability) sequenced() bool {
	return r == UnreliableSequenced || r == ReliableSequenced
}

// sequencedOrOrdered frames carry an order index and channel.
func (r Reliability) sequencedOrOrdered() bool {
	return r.sequenced() || r.ordered()
}

func (r Reliability) String() string {
	switch r {
	case Unreliable:
		return "Unreliable"
	case UnreliableSequenced:
		return "UnreliableSequenced"
	case Reliable:
		return "Reliable"
	case ReliableOrdered:
		return "ReliableOrdered"
	case ReliableSequenced:
		return "ReliableSequenced"
	case UnreliableACKReceipt:
		return "UnreliableACKReceipt"
	case ReliableACKReceipt:
		return "ReliableACKReceipt"
	case ReliableOrderedACKReceipt:
		return "ReliableOrderedACKReceipt"
	}
	return fmt.Sprintf("Reliability(%d)", byte(r))
}
