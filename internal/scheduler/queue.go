package scheduler

import (
	"container/heap"
	"time"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

// queueItem is one task waiting for a dispatch slot.
type queueItem struct {
	task     *models.Task
	enqueued time.Time
	index    int
}

// priorityQueue orders queued tasks by models.PriorityRank, breaking ties
// FIFO by enqueue time so same-priority tasks never starve each other.
type priorityQueue []*queueItem

func (q priorityQueue) Len() int { return len(q) }

func (q priorityQueue) Less(i, j int) bool {
	ri, rj := models.PriorityRank(q[i].task.Priority), models.PriorityRank(q[j].task.Priority)
	if ri != rj {
		return ri < rj
	}
	return q[i].enqueued.Before(q[j].enqueued)
}

func (q priorityQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *priorityQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// taskQueue wraps priorityQueue with dedup-by-ID, so a task due on two
// consecutive poller ticks before it is picked up is only admitted once.
type taskQueue struct {
	heap    priorityQueue
	pending map[string]bool
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{pending: make(map[string]bool)}
	heap.Init(&q.heap)
	return q
}

// push admits task if it is not already queued. Returns false when the
// task was already present.
func (q *taskQueue) push(task *models.Task) bool {
	if q.pending[task.ID] {
		return false
	}
	q.pending[task.ID] = true
	heap.Push(&q.heap, &queueItem{task: task, enqueued: time.Now()})
	return true
}

// pop removes and returns the highest-priority task, or nil if empty.
func (q *taskQueue) pop() *models.Task {
	if q.heap.Len() == 0 {
		return nil
	}
	item := heap.Pop(&q.heap).(*queueItem)
	delete(q.pending, item.task.ID)
	return item.task
}

func (q *taskQueue) len() int { return q.heap.Len() }
