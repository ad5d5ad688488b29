package connection

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// fakeConn is an in-memory transport. Frames pushed with push are returned by
// ReadMessage; drop ends the read side with an abnormal error.
type fakeConn struct {
	in     chan []byte
	closed chan struct{}

	mu      sync.Mutex
	written [][]byte
	readErr error
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.readErr != nil {
			return 0, nil, c.readErr
		}
		return 0, nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(data string) {
	c.in <- []byte(data)
}

// drop simulates an unexpected transport loss.
func (c *fakeConn) drop() {
	c.mu.Lock()
	c.readErr = &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	c.mu.Unlock()
	_ = c.Close()
}

// closeNormally simulates the server closing with 1000.
func (c *fakeConn) closeNormally() {
	c.mu.Lock()
	c.readErr = &websocket.CloseError{Code: websocket.CloseNormalClosure}
	c.mu.Unlock()
	_ = c.Close()
}

func (c *fakeConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, w := range c.written {
		out[i] = string(w)
	}
	return out
}

// dialResult scripts one Dial outcome.
type dialResult struct {
	conn  *fakeConn
	err   error
	block bool // wait for ctx cancellation
}

// fakeDialer returns scripted results per URL in order; once the script is
// exhausted every dial fails.
type fakeDialer struct {
	mu      sync.Mutex
	scripts map[string][]dialResult
	dials   map[string][]time.Time
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{scripts: map[string][]dialResult{}, dials: map[string][]time.Time{}}
}

func (d *fakeDialer) script(url string, results ...dialResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts[url] = append(d.scripts[url], results...)
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.dials[url] = append(d.dials[url], time.Now())
	var r dialResult
	if q := d.scripts[url]; len(q) > 0 {
		r = q[0]
		d.scripts[url] = q[1:]
	} else {
		r = dialResult{err: errors.New("connection refused")}
	}
	d.mu.Unlock()

	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

func (d *fakeDialer) dialTimes(url string) []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.dials[url]...)
}

func refused() dialResult { return dialResult{err: errors.New("connection refused")} }

func opened(c *fakeConn) dialResult { return dialResult{conn: c} }
