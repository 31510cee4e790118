// Package relay mirrors every committed battle snapshot to the external
// realtime delivery service over a websocket. Delivery to end clients is that
// service's problem; the relay only forwards.
package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/ludoarena/battle-coordinator/internal/obslog"
)

const eventPattern = "battle:events:*"

// frame is one forwarded notification: the per-battle topic plus the full
// snapshot, never a diff.
type frame struct {
	Topic    string          `json:"topic"`
	Snapshot json.RawMessage `json:"snapshot"`
}

type Forwarder struct {
	wsURL string
	rdb   *redis.Client

	mu   sync.Mutex
	conn *websocket.Conn

	reconnectDelay time.Duration
	cancel         context.CancelFunc
	done           chan struct{}
}

func NewForwarder(wsURL string, rdb *redis.Client) *Forwarder {
	return &Forwarder{
		wsURL:          wsURL,
		rdb:            rdb,
		reconnectDelay: 2 * time.Second,
	}
}

// Start subscribes to all battle event channels and forwards each payload.
// Runs until Close; the websocket is redialed with backoff on any failure.
func (f *Forwarder) Start(ctx context.Context) error {
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})

	sub := f.rdb.PSubscribe(ctx, eventPattern)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}

	go func() {
		defer close(f.done)
		defer func() { _ = sub.Close() }()
		for msg := range sub.Channel() {
			f.forward(ctx, msg.Channel, []byte(msg.Payload))
		}
	}()
	return nil
}

// forward makes a few attempts and then drops the frame: the relayed stream
// is full snapshots, so the next commit supersedes anything lost here.
func (f *Forwarder) forward(ctx context.Context, topic string, payload []byte) {
	fr := frame{Topic: topic, Snapshot: payload}
	for attempt := 0; attempt < 3; attempt++ {
		conn, err := f.dial(ctx)
		if err != nil {
			obslog.L().Warn("relay_dial_error", zap.Error(err))
		} else if err = wsjson.Write(ctx, conn, fr); err == nil {
			return
		} else {
			f.drop(conn)
			obslog.L().Warn("relay_write_error", zap.String("topic", topic), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *Forwarder) dial(ctx context.Context) (*websocket.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		return f.conn, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, f.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return nil, err
	}
	f.conn = conn
	obslog.L().Info("relay_connected", zap.String("url", f.wsURL))
	return conn, nil
}

func (f *Forwarder) drop(conn *websocket.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == conn {
		f.conn = nil
	}
	_ = conn.Close(websocket.StatusGoingAway, "reconnect")
}

func (f *Forwarder) Close() {
	if f.cancel != nil {
		f.cancel()
	}
	f.mu.Lock()
	if f.conn != nil {
		_ = f.conn.Close(websocket.StatusNormalClosure, "shutdown")
		f.conn = nil
	}
	f.mu.Unlock()
	if f.done != nil {
		<-f.done
	}
}
