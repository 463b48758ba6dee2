package lichess

import (
	"net"
	"time"

	"github.com/valyala/fasthttp"
)

// idleConn renews the read deadline before every read. The connection times out
// after idle without incoming bytes, however long it has been open.
type idleConn struct {
	net.Conn
	idle time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.idle)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func idleDialer(dial fasthttp.DialFunc, idle time.Duration) fasthttp.DialFunc {
	if dial == nil {
		dial = func(addr string) (net.Conn, error) { return fasthttp.DialTimeout(addr, 10*time.Second) }
	}
	if idle <= 0 {
		return dial
	}
	return func(addr string) (net.Conn, error) {
		conn, err := dial(addr)
		if err != nil {
			return nil, err
		}
		return &idleConn{Conn: conn, idle: idle}, nil
	}
}
