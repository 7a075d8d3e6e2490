package raknet

import (
	"net"
	"sync"
)

// BanList decides which IPs a Server refuses to open sessions for.
type BanList interface {
	IsBanned(ip net.IP) bool
}

// MemBanList is a BanList kept in memory.
type MemBanList struct {
	mu  sync.RWMutex
	ips map[string]struct{}
}

func NewMemBanList(ips ...net.IP) *MemBanList {
	l := &MemBanList{ips: make(map[string]struct{})}
	for _, ip := range ips {
		l.Ban(ip)
	}
	return l
}

func (l *MemBanList) Ban(ip net.IP) {
	l.mu.Lock()
	l.ips[ip.String()] = struct{}{}
	l.mu.Unlock()
}

func (l *MemBanList) Unban(ip net.IP) {
	l.mu.Lock()
	delete(l.ips, ip.String())
	l.mu.Unlock()
}

func (l *MemBanList) IsBanned(ip net.IP) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, found := l.ips[ip.String()]
	return found
}
