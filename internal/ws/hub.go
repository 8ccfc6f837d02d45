package ws

import (
	"sync"
	"sync/atomic"
)

const (
	broadcastBuffer = 256
	// OutboxSize bounds the payloads queued for one subscriber. A subscriber that falls this far
	// behind is disconnected.
	OutboxSize = 32
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans payloads out to subscribers grouped by topic. Neither Broadcast nor the hub loop ever
// waits on a subscriber: each one is fed through its own bounded outbox and writer goroutine.
type Hub struct {
	clients   map[string]map[Subscriber]*outbox
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	count     chan countRequest
	done      chan struct{}
	closeOnce sync.Once

	dropped atomic.Int64
	evicted atomic.Int64
}

type message struct {
	topic   string
	payload []byte
}

type subscription struct {
	topic  string
	client Subscriber
}

type countRequest struct {
	topic string
	reply chan int
}

// outbox queues payloads for one subscriber and drains them on a dedicated goroutine.
type outbox struct {
	client Subscriber
	queue  chan []byte
	stop   chan struct{}
	once   sync.Once
}

func (o *outbox) close() {
	o.once.Do(func() {
		close(o.stop)
		o.client.Close()
	})
}

func (o *outbox) run(h *Hub, topic string) {
	for {
		select {
		case <-o.stop:
			return
		case payload := <-o.queue:
			if err := o.client.Send(payload); err != nil {
				o.close()
				h.Unregister(topic, o.client)
				return
			}
		}
	}
}

// NewHub creates an initialized Hub and starts its loop.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]*outbox),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, broadcastBuffer),
		count:     make(chan countRequest),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for _, clients := range h.clients {
				for _, ob := range clients {
					ob.close()
				}
			}
			h.clients = map[string]map[Subscriber]*outbox{}
			return
		case sub := <-h.register:
			clients, ok := h.clients[sub.topic]
			if !ok {
				clients = make(map[Subscriber]*outbox)
				h.clients[sub.topic] = clients
			}
			if _, exists := clients[sub.client]; exists {
				continue
			}
			ob := &outbox{client: sub.client, queue: make(chan []byte, OutboxSize), stop: make(chan struct{})}
			clients[sub.client] = ob
			go ob.run(h, sub.topic)
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.topic]; ok {
				if ob, ok := clients[sub.client]; ok {
					ob.close()
					delete(clients, sub.client)
				}
				if len(clients) == 0 {
					delete(h.clients, sub.topic)
				}
			}
		case req := <-h.count:
			req.reply <- len(h.clients[req.topic])
		case msg := <-h.broadcast:
			clients, ok := h.clients[msg.topic]
			if !ok {
				continue
			}
			for c, ob := range clients {
				select {
				case ob.queue <- msg.payload:
				default:
					// Slow consumer: disconnect rather than let it hold up everyone else.
					ob.close()
					delete(clients, c)
					h.evicted.Add(1)
				}
			}
			if len(clients) == 0 {
				delete(h.clients, msg.topic)
			}
		}
	}
}

// Register adds a client to a topic.
func (h *Hub) Register(topic string, client Subscriber) {
	select {
	case h.register <- subscription{topic: topic, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes and closes a client.
func (h *Hub) Unregister(topic string, client Subscriber) {
	select {
	case h.unreg <- subscription{topic: topic, client: client}:
	case <-h.done:
	}
}

// Broadcast queues payload for every subscriber of topic without blocking. It returns false when
// the hub is closed or its queue is full; the latter is counted in Dropped.
func (h *Hub) Broadcast(topic string, payload []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.broadcast <- message{topic: topic, payload: payload}:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

// Dropped reports broadcasts rejected because the hub queue was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Evicted reports subscribers disconnected for falling behind.
func (h *Hub) Evicted() int64 {
	return h.evicted.Load()
}

// Subscribers reports how many clients are attached to topic.
func (h *Hub) Subscribers(topic string) int {
	reply := make(chan int, 1)
	select {
	case h.count <- countRequest{topic: topic, reply: reply}:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Done is closed once Close has been called.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Close disconnects every subscriber and stops the hub loop.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
