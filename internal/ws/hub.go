package ws

import "sync/atomic"

const (
	broadcastBuffer = 256
	subscriberQueue = 64
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions by deployment ID. Each subscriber is written by its own
// goroutine, so a slow client only ever fills its own queue.
type Hub struct {
	clients   map[string]map[Subscriber]chan []byte
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	count     chan countRequest
	dropped   atomic.Int64
	evicted   atomic.Int64
}

// message couples payload with deployment identifier.
type message struct {
	deploymentID string
	payload      []byte
}

// subscription defines register/unregister requests. A non-nil queue limits removal to that
// registration.
type subscription struct {
	deploymentID string
	client       Subscriber
	queue        chan []byte
}

type countRequest struct {
	deploymentID string
	reply        chan int
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]chan []byte),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, broadcastBuffer),
		count:     make(chan countRequest),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			clients, ok := h.clients[sub.deploymentID]
			if !ok {
				clients = make(map[Subscriber]chan []byte)
				h.clients[sub.deploymentID] = clients
			}
			if _, exists := clients[sub.client]; exists {
				continue
			}
			queue := make(chan []byte, subscriberQueue)
			clients[sub.client] = queue
			go h.write(sub.deploymentID, sub.client, queue)
		case sub := <-h.unreg:
			h.remove(sub)
		case msg := <-h.broadcast:
			for c, queue := range h.clients[msg.deploymentID] {
				select {
				case queue <- msg.payload:
				default:
					h.evicted.Add(1)
					h.remove(subscription{deploymentID: msg.deploymentID, client: c})
				}
			}
		case req := <-h.count:
			req.reply <- len(h.clients[req.deploymentID])
		}
	}
}

// remove closes the subscriber queue; its writer closes the subscriber once drained.
func (h *Hub) remove(sub subscription) {
	clients, ok := h.clients[sub.deploymentID]
	if !ok {
		return
	}
	queue, ok := clients[sub.client]
	if !ok || (sub.queue != nil && sub.queue != queue) {
		return
	}
	close(queue)
	delete(clients, sub.client)
	if len(clients) == 0 {
		delete(h.clients, sub.deploymentID)
	}
}

func (h *Hub) write(deploymentID string, client Subscriber, queue chan []byte) {
	defer client.Close()
	for payload := range queue {
		if err := client.Send(payload); err != nil {
			h.unreg <- subscription{deploymentID: deploymentID, client: client, queue: queue}
			return
		}
	}
}

// Register adds a client to a deployment stream.
func (h *Hub) Register(deploymentID string, client Subscriber) {
	h.register <- subscription{deploymentID: deploymentID, client: client}
}

// Unregister removes a client.
func (h *Hub) Unregister(deploymentID string, client Subscriber) {
	h.unreg <- subscription{deploymentID: deploymentID, client: client}
}

// Broadcast queues payload for all clients of the deployment. It never blocks; payloads that
// do not fit the hub buffer are counted and discarded.
func (h *Hub) Broadcast(deploymentID string, payload []byte) {
	select {
	case h.broadcast <- message{deploymentID: deploymentID, payload: payload}:
	default:
		h.dropped.Add(1)
	}
}

// Subscribers returns the number of clients registered for a deployment.
func (h *Hub) Subscribers(deploymentID string) int {
	reply := make(chan int, 1)
	h.count <- countRequest{deploymentID: deploymentID, reply: reply}
	return <-reply
}

// Dropped reports broadcasts discarded because the hub buffer was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Evicted reports subscribers removed because their queue was full.
func (h *Hub) Evicted() int64 { return h.evicted.Load() }
