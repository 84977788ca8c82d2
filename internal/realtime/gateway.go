package realtime

import (
	"encoding/json"
	"sync"
	"time"
)

// subscriber is a single client's outbound event channel.
type subscriber struct {
	id   string
	send chan []byte
}

// Gateway holds one room per task ID, each room being the set of
// subscribers currently watching that task. Publish fans an event out to
// every subscriber in the task's room without blocking on a slow reader —
// a full channel just drops the frame, matching the teacher's buffered
// per-connection send channel idiom.
type Gateway struct {
	mu    sync.Mutex
	rooms map[string]map[string]*subscriber
}

// New creates an empty Gateway.
func New() *Gateway {
	return &Gateway{rooms: make(map[string]map[string]*subscriber)}
}

// Join registers a subscriber for a task's room and returns its outbound
// channel plus a leave function the caller must call when done.
func (g *Gateway) Join(taskID, subscriberID string, bufferSize int) (<-chan []byte, func()) {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	sub := &subscriber{id: subscriberID, send: make(chan []byte, bufferSize)}

	g.mu.Lock()
	room, ok := g.rooms[taskID]
	if !ok {
		room = make(map[string]*subscriber)
		g.rooms[taskID] = room
	}
	room[subscriberID] = sub
	g.mu.Unlock()

	g.Publish(Event{Type: EventTaskJoined, TaskID: taskID, Payload: map[string]string{"subscriber_id": subscriberID}, Timestamp: time.Now()})

	leave := func() {
		g.mu.Lock()
		if room, ok := g.rooms[taskID]; ok {
			if existing, ok := room[subscriberID]; ok && existing == sub {
				delete(room, subscriberID)
				close(sub.send)
			}
			if len(room) == 0 {
				delete(g.rooms, taskID)
			}
		}
		g.mu.Unlock()
		g.Publish(Event{Type: EventTaskLeft, TaskID: taskID, Payload: map[string]string{"subscriber_id": subscriberID}, Timestamp: time.Now()})
	}
	return sub.send, leave
}

// Publish marshals event and fans it out to every subscriber in the
// event's task room.
func (g *Gateway) Publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	g.mu.Lock()
	room := g.rooms[event.TaskID]
	subs := make([]*subscriber, 0, len(room))
	for _, sub := range room {
		subs = append(subs, sub)
	}
	g.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.send <- data:
		default:
		}
	}
}

// RoomSize reports how many subscribers currently watch taskID, used by
// tests.
func (g *Gateway) RoomSize(taskID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms[taskID])
}
