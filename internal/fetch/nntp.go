package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/datallboy/gonzbd/internal/infra/config"
	"github.com/datallboy/gonzbd/internal/nzb"
)

// NNTPClient fetches article bodies from a single news server over a
// lazily opened connection. A failed exchange drops the connection so
// the next fetch redials.
type NNTPClient struct {
	host string
	port int
	tls  bool

	mu   sync.Mutex
	conn *textproto.Conn
}

func NewNNTPClient(c config.ServerConfig) *NNTPClient {
	return &NNTPClient{
		host: c.Host,
		port: c.Port,
		tls:  c.TLS,
	}
}

func (c *NNTPClient) Fetch(ctx context.Context, seg *nzb.Segment) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}

	msgID := seg.MessageID
	if !strings.HasPrefix(msgID, "<") {
		msgID = "<" + msgID + ">"
	}

	// A blocked read can only be interrupted by closing the connection
	// underneath it; the worker's abort cancels ctx mid-transfer.
	conn := c.conn
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	data, err := exchange(conn, msgID)
	close(watchDone)

	if cerr := ctx.Err(); cerr != nil {
		c.reset()
		return nil, cerr
	}
	if err != nil {
		c.reset()
		return nil, err
	}
	return data, nil
}

// exchange runs one BODY round trip on an open connection.
func exchange(conn *textproto.Conn, msgID string) ([]byte, error) {
	// BODY streams the article content without the headers.
	if _, err := conn.Cmd("BODY %s", msgID); err != nil {
		return nil, err
	}
	if _, _, err := conn.ReadCodeLine(222); err != nil {
		return nil, err
	}

	// DotReader undoes the NNTP dot-stuffing and consumes the .\r\n
	// terminator.
	return io.ReadAll(conn.DotReader())
}

// ClientPool hands each concurrent fetch its own connection, up to a
// fixed number of sessions, so pool workers do not serialize on one
// socket. Connections still open lazily on first use.
type ClientPool struct {
	idle chan *NNTPClient
}

func NewClientPool(c config.ServerConfig, size int) *ClientPool {
	if size <= 0 {
		size = 1
	}
	p := &ClientPool{idle: make(chan *NNTPClient, size)}
	for i := 0; i < size; i++ {
		p.idle <- NewNNTPClient(c)
	}
	return p
}

func (p *ClientPool) Fetch(ctx context.Context, seg *nzb.Segment) ([]byte, error) {
	select {
	case client := <-p.idle:
		data, err := client.Fetch(ctx, seg)
		p.idle <- client
		return data, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close quits every session. Callers stop the worker pool first so all
// clients are back in the idle set.
func (p *ClientPool) Close() error {
	var first error
	for i := 0; i < cap(p.idle); i++ {
		c := <-p.idle
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c *NNTPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	// QUIT lets the server release the connection slot immediately.
	c.conn.Cmd("QUIT")
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *NNTPClient) reset() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *NNTPClient) ensureConnected() error {
	if c.conn != nil {
		return nil
	}

	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))

	var conn io.ReadWriteCloser
	var err error
	if c.tls {
		conn, err = tls.Dial("tcp", addr, &tls.Config{
			ServerName: c.host,
			MinVersion: tls.VersionTLS12,
		})
	} else {
		conn, err = net.DialTimeout("tcp", addr, 10*time.Second)
	}
	if err != nil {
		return err
	}

	c.conn = textproto.NewConn(conn)

	// Servers greet with 200, or 201 when posting is not allowed,
	// which is fine for downloading.
	if _, _, err := c.conn.ReadCodeLine(20); err != nil {
		c.reset()
		return err
	}
	return nil
}
