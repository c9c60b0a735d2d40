package inproc

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"wildfire_crew/internal/domain"
)

var (
	ErrAgentNotRegistered = errors.New("agent is not registered in bus")
	ErrAgentQueueFull     = errors.New("agent queue is full")
)

// Bus holds one buffered mailbox per agent. Publishers never block; a full
// mailbox rejects the message.
type Bus struct {
	mu     sync.RWMutex
	subs   map[domain.AgentID]chan domain.Message
	buffer int
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[domain.AgentID]chan domain.Message),
		buffer: buffer,
	}
}

func (b *Bus) Register(id domain.AgentID) <-chan domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		return ch
	}
	ch := make(chan domain.Message, b.buffer)
	b.subs[id] = ch
	return ch
}

func (b *Bus) Unregister(id domain.AgentID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(ch)
}

func (b *Bus) Publish(msg domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.subs[msg.To]
	if !ok {
		return ErrAgentNotRegistered
	}

	select {
	case ch <- msg:
		return nil
	default:
		return ErrAgentQueueFull
	}
}

// Drain returns every message waiting in the mailbox of id without blocking.
func (b *Bus) Drain(id domain.AgentID) []domain.Message {
	b.mu.RLock()
	ch, ok := b.subs[id]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	var out []domain.Message
	for {
		select {
		case msg, open := <-ch:
			if !open {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}
