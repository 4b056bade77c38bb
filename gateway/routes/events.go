package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"stakechain/core/runtime"
	"stakechain/core/types"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

// BlockMessage is what websocket subscribers receive for each block.
type BlockMessage struct {
	Height uint64         `json:"height"`
	Hash   string         `json:"hash"`
	Events []*types.Event `json:"events"`
}

type subscriber struct {
	ch     chan BlockMessage
	filter map[string]struct{}
}

func (s *subscriber) wants(evt *types.Event) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[evt.Type]
	return ok
}

// EventHub fans committed block events out to websocket clients. It is a
// runtime.BlockListener; a subscriber whose buffer is full loses the block
// rather than stalling block production.
type EventHub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	logger *slog.Logger
}

var _ runtime.BlockListener = (*EventHub)(nil)

func NewEventHub(logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{subs: make(map[*subscriber]struct{}), logger: logger}
}

// OnBlock implements runtime.BlockListener.
func (h *EventHub) OnBlock(result *runtime.BlockResult) {
	msg := BlockMessage{Height: result.Number, Hash: fmt.Sprintf("0x%x", result.Hash), Events: result.Events}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		out := msg
		if len(sub.filter) > 0 {
			out.Events = make([]*types.Event, 0, len(msg.Events))
			for _, evt := range msg.Events {
				if sub.wants(evt) {
					out.Events = append(out.Events, evt)
				}
			}
			if len(out.Events) == 0 {
				continue
			}
		}
		select {
		case sub.ch <- out:
		default:
			h.logger.Warn("event hub: subscriber lagging, block dropped", slog.Uint64("height", result.Number))
		}
	}
}

// Subscribe registers a subscriber for the given event types (all when
// empty). The returned cancel func must be called to release it.
func (h *EventHub) Subscribe(typesFilter []string) (<-chan BlockMessage, func()) {
	sub := &subscriber{ch: make(chan BlockMessage, subscriberBuffer)}
	if len(typesFilter) > 0 {
		sub.filter = make(map[string]struct{}, len(typesFilter))
		for _, t := range typesFilter {
			sub.filter[t] = struct{}{}
		}
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of connected subscribers.
func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades to a websocket and streams block messages. The optional
// "types" query parameter is a comma separated event type filter.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var filter []string
	for _, t := range strings.Split(r.URL.Query().Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter = append(filter, t)
		}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	updates, cancel := h.Subscribe(filter)
	defer cancel()
	ctx := conn.CloseRead(r.Context())
	if err := stream(ctx, conn, updates); err != nil {
		if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
			h.logger.Debug("event hub: stream ended", slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func stream(ctx context.Context, conn *websocket.Conn, updates <-chan BlockMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-updates:
			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
