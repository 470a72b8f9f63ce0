package ring

import (
	"encoding/json"
	"fmt"

	"github.com/eapache/queue"

	"github.com/sambigeara/messagecat/pkg/types"
)

const DefaultCapacity = 10

// MessageQueue is a fixed-capacity ring of chat messages. Pushing onto a full
// ring evicts the oldest message.
type MessageQueue struct {
	buf      *queue.Queue
	chatID   int
	capacity int
}

func New(chatID, capacity int) *MessageQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MessageQueue{buf: queue.New(), chatID: chatID, capacity: capacity}
}

func (m *MessageQueue) ChatID() int { return m.chatID }
func (m *MessageQueue) Cap() int    { return m.capacity }
func (m *MessageQueue) Len() int    { return m.buf.Length() }

func (m *MessageQueue) Push(msg types.Message) {
	for m.buf.Length() >= m.capacity {
		m.buf.Remove()
	}
	m.buf.Add(msg)
}

// Get returns the message i positions from the oldest.
func (m *MessageQueue) Get(i int) (types.Message, bool) {
	if i < 0 || i >= m.buf.Length() {
		return types.Message{}, false
	}
	msg, _ := m.buf.Get(i).(types.Message)
	return msg, true
}

// Messages returns the contents oldest first.
func (m *MessageQueue) Messages() []types.Message {
	out := make([]types.Message, 0, m.buf.Length())
	for i := range m.buf.Length() {
		msg, _ := m.buf.Get(i).(types.Message)
		out = append(out, msg)
	}
	return out
}

func (m *MessageQueue) Clone() *MessageQueue {
	c := New(m.chatID, m.capacity)
	for _, msg := range m.Messages() {
		c.buf.Add(msg)
	}
	return c
}

type wireQueue struct {
	Messages []types.Message `json:"messages"`
	ChatID   int             `json:"chatID"`
	Capacity int             `json:"capacity"`
}

func (m *MessageQueue) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireQueue{ChatID: m.chatID, Capacity: m.capacity, Messages: m.Messages()})
}

func (m *MessageQueue) UnmarshalJSON(b []byte) error {
	var w wireQueue
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("decode message queue: %w", err)
	}

	*m = *New(w.ChatID, w.Capacity)
	for _, msg := range w.Messages {
		m.Push(msg)
	}
	return nil
}
