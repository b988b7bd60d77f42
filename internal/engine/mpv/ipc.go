package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
)

const maxMessageSize = 1 << 20

// ErrClosed is returned for commands on a closed connection.
var ErrClosed = errors.New("mpv: connection closed")

// CommandError is an mpv error reply.
type CommandError struct {
	Command string
	Reason  string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("mpv %s: %s", e.Command, e.Reason)
}

type request struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

// message is either a command reply or an event.
type message struct {
	Event     string          `json:"event"`
	RequestID int64           `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`

	Name            string `json:"name"`
	Reason          string `json:"reason"`
	FileError       string `json:"file_error"`
	PlaylistEntryID int64  `json:"playlist_entry_id"`
}

// conn is a JSON IPC connection. Replies are matched to commands by
// request id; events go to onEvent on the reader goroutine, which must not
// issue commands itself.
type conn struct {
	nc      net.Conn
	onEvent func(message)

	wmu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan message
	err     error

	done chan struct{}
}

func dial(ctx context.Context, socket string, onEvent func(message)) (*conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", socket, err)
	}
	c := &conn{
		nc:      nc,
		onEvent: onEvent,
		pending: make(map[int64]chan message),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *conn) readLoop() {
	defer close(c.done)
	sc := bufio.NewScanner(c.nc)
	sc.Buffer(make([]byte, 64*1024), maxMessageSize)
	for sc.Scan() {
		var m message
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			continue
		}
		if m.Event != "" {
			if c.onEvent != nil {
				c.onEvent(m)
			}
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[m.RequestID]
		delete(c.pending, m.RequestID)
		c.mu.Unlock()
		if ok {
			ch <- m
		}
	}

	err := sc.Err()
	if err == nil {
		err = ErrClosed
	}
	c.mu.Lock()
	c.err = err
	c.pending = nil
	c.mu.Unlock()
}

// command sends args and waits for the reply's data.
func (c *conn) command(ctx context.Context, args ...any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.pending == nil {
		err := c.err
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrClosed, err)
	}
	c.nextID++
	id := c.nextID
	ch := make(chan message, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	payload, err := json.Marshal(request{Command: args, RequestID: id})
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("marshal: %w", err)
	}

	c.wmu.Lock()
	_, err = c.nc.Write(append(payload, '\n'))
	c.wmu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("write: %w", err)
	}

	select {
	case m := <-ch:
		if m.Error != "" && m.Error != "success" {
			return nil, &CommandError{Command: fmt.Sprint(args[0]), Reason: m.Error}
		}
		return m.Data, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *conn) forget(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		delete(c.pending, id)
	}
}

// Closed is closed when the reader exits.
func (c *conn) Closed() <-chan struct{} { return c.done }

func (c *conn) close() error {
	err := c.nc.Close()
	<-c.done
	return err
}
