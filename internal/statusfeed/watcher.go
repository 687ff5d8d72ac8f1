package statusfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/printfleet/printfleet/internal/debug"
)

// Watcher keeps a Moonraker websocket open for one printer and reports what
// it sees into a Registry. It re-queries print_stats every interval and also
// applies notify_status_update pushes.
type Watcher struct {
	printerID string
	wsURL     string
	apiKey    string
	interval  time.Duration
	dialer    *websocket.Dialer

	newBackOff func() backoff.BackOff
	rpcID      atomic.Int64
}

// NewWatcher creates a watcher. baseURL is the Moonraker HTTP base which is
// rewritten to ws(s)://host/websocket.
func NewWatcher(printerID, baseURL string, interval time.Duration, opts ...Option) *Watcher {
	u := strings.TrimRight(baseURL, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)

	// Options are shared with Client; only the API key applies here.
	dummy := &Client{httpClient: &http.Client{}}
	for _, o := range opts {
		o(dummy)
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Watcher{
		printerID:  printerID,
		wsURL:      u + "/websocket",
		apiKey:     dummy.apiKey,
		interval:   interval,
		dialer:     websocket.DefaultDialer,
		newBackOff: defaultReconnectBackOff,
	}
}

func defaultReconnectBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // never give up; the daemon owns the lifetime
	return bo
}

// Run blocks until ctx is cancelled, reconnecting with exponential backoff
// whenever the connection drops. The printer is unreachable in reg while no
// connection is up.
func (w *Watcher) Run(ctx context.Context, reg *Registry) error {
	bo := backoff.WithContext(w.newBackOff(), ctx)
	err := backoff.RetryNotify(func() error {
		err := w.session(ctx, reg, bo.Reset)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, bo, func(err error, next time.Duration) {
		debug.Tagf("watch "+w.printerID, "%v; reconnecting in %s\n", err, next.Round(time.Millisecond))
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

type wsMessage struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	Result *struct {
		Status json.RawMessage `json:"status"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// session runs one connection until it fails. connected is called once the
// dial succeeds.
func (w *Watcher) session(ctx context.Context, reg *Registry, connected func()) error {
	header := http.Header{}
	if w.apiKey != "" {
		header.Set("X-Api-Key", w.apiKey)
	}
	conn, _, err := w.dialer.DialContext(ctx, w.wsURL, header)
	if err != nil {
		return fmt.Errorf("moonraker: ws dial: %w", err)
	}
	connected()

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sctx.Done()
		conn.Close()
	}()
	defer reg.Disconnect(w.printerID)

	// gorilla allows one concurrent writer; only this goroutine writes.
	go func() {
		t := time.NewTicker(w.interval)
		defer t.Stop()
		for {
			if err := w.query(conn); err != nil {
				cancel()
				return
			}
			select {
			case <-sctx.Done():
				return
			case <-t.C:
			}
		}
	}()

	var status PrintStatus
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("moonraker: ws read: %w", err)
		}
		var msg wsMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}

		var raw json.RawMessage
		switch {
		case msg.Error != nil:
			debug.Tagf("watch "+w.printerID, "rpc error %d: %s\n", msg.Error.Code, msg.Error.Message)
			continue
		case msg.Result != nil && len(msg.Result.Status) > 0:
			raw = msg.Result.Status
		case msg.Method == "notify_status_update" && len(msg.Params) > 0:
			raw = msg.Params[0]
		case msg.Method == "notify_klippy_disconnected" || msg.Method == "notify_klippy_shutdown":
			reg.Disconnect(w.printerID)
			continue
		default:
			continue
		}
		// Partial updates only carry changed fields; decoding into the
		// running value merges them.
		if err := json.Unmarshal(raw, &status); err != nil {
			continue
		}
		st := PrinterState{PrinterID: w.printerID, Online: true, UpdatedAt: time.Now()}
		applyStatus(&st, &status)
		reg.Report(st)
	}
}

func (w *Watcher) query(conn *websocket.Conn) error {
	return conn.WriteJSON(rpcRequest{
		JSONRPC: "2.0",
		Method:  "printer.objects.query",
		Params:  map[string]any{"objects": statusObjects},
		ID:      w.rpcID.Add(1),
	})
}
