// Package feed broadcasts clpool.Event values to websocket subscribers,
// implementing the clpool.Publisher interface the core calls into
// (callbacks.go). Grounded on the gorilla/websocket usage in the pack's
// sniper-terminal reference file under other_examples/, adapted into a
// fan-out broadcaster rather than a single inbound connection.
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/lumen-dex/clpool"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait      = 10 * time.Second
	subscriberSend = 32
)

type subscriber struct {
	id      uuid.UUID
	conn    *websocket.Conn
	send    chan clpool.Event
	limiter *rate.Limiter
}

// Broadcaster fans clpool.Event values out to every connected
// websocket client, rate-limiting each connection independently so a
// slow reader can't stall the others.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]*subscriber
	logger      *logrus.Logger
	rateLimit   rate.Limit
	rateBurst   int
}

// NewBroadcaster builds a Broadcaster; eventsPerSecond/burst bound how
// fast any single subscriber connection can be written to before
// events are dropped for it (spec.md's event stream is best-effort,
// not a replay log).
func NewBroadcaster(eventsPerSecond float64, burst int, logger *logrus.Logger) *Broadcaster {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Broadcaster{
		subscribers: make(map[uuid.UUID]*subscriber),
		logger:      logger,
		rateLimit:   rate.Limit(eventsPerSecond),
		rateBurst:   burst,
	}
}

// Publish implements clpool.Publisher: every CorePool operation that
// emits an event calls this synchronously, so it must never block on a
// slow subscriber — sends are buffered and dropped rather than queued
// unboundedly.
func (b *Broadcaster) Publish(ev clpool.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		select {
		case sub.send <- ev:
		default:
			b.logger.WithField("subscriber", sub.id).Warn("feed: dropping event, subscriber send buffer full")
		}
	}
}

// ServeHTTP upgrades the request to a websocket and registers the
// connection as a subscriber until it disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.WithError(err).Warn("feed: upgrade failed")
		return
	}
	sub := &subscriber{
		id:      uuid.New(),
		conn:    conn,
		send:    make(chan clpool.Event, subscriberSend),
		limiter: rate.NewLimiter(b.rateLimit, b.rateBurst),
	}

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	b.logger.WithField("subscriber", sub.id).Info("feed: subscriber connected")
	go b.writeLoop(sub)
	go b.readLoop(sub)
}

func (b *Broadcaster) writeLoop(sub *subscriber) {
	defer b.disconnect(sub)
	for ev := range sub.send {
		if err := sub.limiter.Wait(context.Background()); err != nil {
			return
		}
		sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
		bs, err := json.Marshal(ev)
		if err != nil {
			b.logger.WithError(err).Warn("feed: marshal event")
			continue
		}
		if err := sub.conn.WriteMessage(websocket.TextMessage, bs); err != nil {
			return
		}
	}
}

// readLoop discards inbound frames; this is a one-way event feed, but
// a live read is required to surface close frames/errors promptly.
func (b *Broadcaster) readLoop(sub *subscriber) {
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) disconnect(sub *subscriber) {
	b.mu.Lock()
	delete(b.subscribers, sub.id)
	b.mu.Unlock()
	sub.conn.Close()
	b.logger.WithField("subscriber", sub.id).Info("feed: subscriber disconnected")
}

// SubscriberCount reports the number of live connections, useful for
// health checks / metrics embedders wire up around the core.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
