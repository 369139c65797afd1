package renderer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"nhooyr.io/websocket"
)

// devtoolsConn is a minimal DevTools protocol client over one websocket.
// Requests are matched to responses by ID; protocol events are handed to
// the eventFn callback from the read loop.
type devtoolsConn struct {
	conn *websocket.Conn

	mu      sync.Mutex
	nextID  int
	pending map[int]chan rpcResult

	eventFn func(method string, params json.RawMessage)

	failOnce sync.Once
	done     chan struct{}
	readErr  error
}

type rpcResult struct {
	result json.RawMessage
	err    error
}

// dialDevTools connects to a DevTools websocket endpoint and starts the
// read loop. eventFn may be nil when protocol events are not needed
// (per-page helper connections).
func dialDevTools(ctx context.Context, url string, eventFn func(string, json.RawMessage)) (*devtoolsConn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial devtools endpoint: %w", err)
	}

	// Evaluate results and target lists can be large
	conn.SetReadLimit(16 << 20)

	d := &devtoolsConn{
		conn:    conn,
		pending: make(map[int]chan rpcResult),
		eventFn: eventFn,
		done:    make(chan struct{}),
	}

	go d.readLoop()
	return d, nil
}

func (d *devtoolsConn) readLoop() {
	for {
		_, data, err := d.conn.Read(context.Background())
		if err != nil {
			d.fail(err)
			return
		}

		var msg struct {
			ID     int             `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
			Result json.RawMessage `json:"result"`
			Error  *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			// Not a protocol frame we understand, skip
			continue
		}

		if msg.ID != 0 {
			d.mu.Lock()
			ch, ok := d.pending[msg.ID]
			if ok {
				delete(d.pending, msg.ID)
			}
			d.mu.Unlock()

			if ok {
				if msg.Error != nil {
					ch <- rpcResult{err: fmt.Errorf("devtools error: %s (code %d)", msg.Error.Message, msg.Error.Code)}
				} else {
					ch <- rpcResult{result: msg.Result}
				}
			}
			continue
		}

		if msg.Method != "" && d.eventFn != nil {
			d.eventFn(msg.Method, msg.Params)
		}
	}
}

// call sends one DevTools command and waits for its response
func (d *devtoolsConn) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	select {
	case <-d.done:
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, d.readErr)
	default:
	}

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	ch := make(chan rpcResult, 1)
	d.pending[id] = ch
	d.mu.Unlock()

	req := struct {
		ID     int         `json:"id"`
		Method string      `json:"method"`
		Params interface{} `json:"params,omitempty"`
	}{ID: id, Method: method, Params: params}

	payload, err := json.Marshal(req)
	if err != nil {
		d.forget(id)
		return nil, fmt.Errorf("failed to marshal devtools request: %v", err)
	}

	if err := d.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		d.forget(id)
		return nil, fmt.Errorf("devtools write failed: %w", err)
	}

	select {
	case res := <-ch:
		return res.result, res.err
	case <-ctx.Done():
		d.forget(id)
		return nil, ctx.Err()
	case <-d.done:
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, d.readErr)
	}
}

func (d *devtoolsConn) forget(id int) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

// fail tears the connection down once and unblocks every pending call
func (d *devtoolsConn) fail(err error) {
	d.failOnce.Do(func() {
		d.readErr = err
		close(d.done)

		d.mu.Lock()
		for id, ch := range d.pending {
			ch <- rpcResult{err: fmt.Errorf("%w: %v", ErrNotConnected, err)}
			delete(d.pending, id)
		}
		d.mu.Unlock()

		_ = d.conn.CloseNow()
	})
}

// alive reports whether the read loop is still running
func (d *devtoolsConn) alive() bool {
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

// close performs a websocket close handshake and stops the read loop
func (d *devtoolsConn) close() {
	_ = d.conn.Close(websocket.StatusNormalClosure, "")
	d.fail(fmt.Errorf("connection closed"))
}
