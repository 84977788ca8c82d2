package realtime

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJoinPublishLeave(t *testing.T) {
	gw := New()
	send, leave := gw.Join("task-1", "sub-1", 8)
	defer leave()

	if got := gw.RoomSize("task-1"); got != 1 {
		t.Fatalf("expected room size 1, got %d", got)
	}

	gw.Publish(Event{Type: EventNewMessage, TaskID: "task-1", Payload: map[string]string{"hello": "world"}, Timestamp: time.Now()})

	// Join itself publishes a task_joined event first; skip past it to
	// reach the new_message event published above.
	var evt Event
	for i := 0; i < 2; i++ {
		select {
		case data := <-send:
			if err := json.Unmarshal(data, &evt); err != nil {
				t.Fatalf("unmarshal event: %v", err)
			}
			if evt.Type == EventNewMessage {
				return
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for published event")
		}
	}
	t.Fatalf("expected to observe a new_message event, last saw %s", evt.Type)
}

func TestPublishToEmptyRoomIsNoop(t *testing.T) {
	gw := New()
	gw.Publish(Event{Type: EventTaskUpdated, TaskID: "no-such-task", Timestamp: time.Now()})
}

func TestLeaveRemovesFromRoom(t *testing.T) {
	gw := New()
	_, leave := gw.Join("task-2", "sub-1", 8)
	if gw.RoomSize("task-2") != 1 {
		t.Fatalf("expected room size 1 before leave")
	}
	leave()
	if gw.RoomSize("task-2") != 0 {
		t.Fatalf("expected room size 0 after leave")
	}
}
