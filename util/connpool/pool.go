// Package connpool implements a small per-address TCP connection pool,
// grounded on the GetConnect/PutConnectWithErr pattern used by the
// meta and data sdk clients in the pack (e.g. arvinsg-cubefs's
// sdk/meta/conn.go and sdk/data/data_partition.go).
package connpool

import (
	"net"
	"sync"
	"time"
)

const (
	defaultIdlePerAddr = 8
	defaultConnTimeout = 3 * time.Second
)

// Pool hands out pooled *net.TCPConn per remote address.
type Pool struct {
	mu       sync.Mutex
	idle     map[string][]*net.TCPConn
	maxIdle  int
	dialTimo time.Duration
}

// New returns a connection pool.
func New() *Pool {
	return &Pool{
		idle:     make(map[string][]*net.TCPConn),
		maxIdle:  defaultIdlePerAddr,
		dialTimo: defaultConnTimeout,
	}
}

// GetConnect returns a pooled connection to addr, dialing a new one if
// none is idle.
func (p *Pool) GetConnect(addr string) (*net.TCPConn, error) {
	p.mu.Lock()
	if conns := p.idle[addr]; len(conns) > 0 {
		c := conns[len(conns)-1]
		p.idle[addr] = conns[:len(conns)-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	conn, err := net.DialTimeout("tcp", addr, p.dialTimo)
	if err != nil {
		return nil, err
	}
	tcpConn := conn.(*net.TCPConn)
	tcpConn.SetKeepAlive(true)
	tcpConn.SetNoDelay(true)
	return tcpConn, nil
}

// PutConnectWithErr returns the connection to the pool on success, or
// closes it when err is non-nil (the peer-side state may be
// inconsistent after a failed round trip).
func (p *Pool) PutConnectWithErr(conn *net.TCPConn, err error) {
	if conn == nil {
		return
	}
	if err != nil {
		conn.Close()
		return
	}
	addr := conn.RemoteAddr().String()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle[addr]) >= p.maxIdle {
		p.mu.Unlock()
		conn.Close()
		p.mu.Lock()
		return
	}
	p.idle[addr] = append(p.idle[addr], conn)
}

// Close closes every idle connection in the pool.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, conns := range p.idle {
		for _, c := range conns {
			c.Close()
		}
		delete(p.idle, addr)
	}
}
