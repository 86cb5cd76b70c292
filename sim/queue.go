package sim

import "cross-maker-go/event"

// Queue 合成事件的先进先出队列，由引擎调度循环在处理完每个外部事件后排空。
type Queue struct {
	items []event.Event
	head  int
}

// NewQueue 创建队列。
func NewQueue() *Queue { return &Queue{} }

// Push 追加事件。
func (q *Queue) Push(ev event.Event) { q.items = append(q.items, ev) }

// Pop 取出最早的事件。
func (q *Queue) Pop() (event.Event, bool) {
	if q.head >= len(q.items) {
		return event.Event{}, false
	}
	ev := q.items[q.head]
	q.items[q.head] = event.Event{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return ev, true
}

// Len 剩余事件数。
func (q *Queue) Len() int { return len(q.items) - q.head }

// Clear 丢弃所有未处理事件。
func (q *Queue) Clear() {
	q.items = q.items[:0]
	q.head = 0
}
