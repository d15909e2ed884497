// Package events fans out project changes to in-process subscribers such as
// the progression watch websocket.
package events

import (
	"sync"
	"time"
)

type Type string

const (
	TaskChanged     Type = "task_changed"
	ProjectAdvanced Type = "project_advanced"
	TasksGenerated  Type = "tasks_generated"
	ProjectChanged  Type = "project_changed"
)

type Event struct {
	Type      Type      `json:"type"`
	ProjectID string    `json:"projectId"`
	Data      any       `json:"data,omitempty"`
	Time      time.Time `json:"time"`
}

// Broker delivers events to the subscribers of a project. Sends never block:
// a subscriber whose buffer is full misses the event.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
	bufferSize  int
	closed      bool
}

func NewBroker(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	return &Broker{
		subscribers: make(map[string][]chan Event),
		bufferSize:  bufferSize,
	}
}

func (b *Broker) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers[event.ProjectID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a channel of events for one project. Callers must
// Unsubscribe when done.
func (b *Broker) Subscribe(projectID string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[projectID] = append(b.subscribers[projectID], ch)
	return ch
}

func (b *Broker) Unsubscribe(projectID string, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[projectID]
	for i, sub := range subs {
		if sub == ch {
			b.subscribers[projectID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(b.subscribers[projectID]) == 0 {
		delete(b.subscribers, projectID)
	}
}

func (b *Broker) SubscriberCount(projectID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[projectID])
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for projectID, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, projectID)
	}
}
