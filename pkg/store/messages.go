package store

import (
	"errors"
	"path/filepath"

	"github.com/sambigeara/messagecat/pkg/ring"
	"github.com/sambigeara/messagecat/pkg/types"
)

const messagesFileName = "messages.json"

var ErrQueueExists = errors.New("message queue already exists")

// MessageStore holds one message ring per chat.
type MessageStore struct {
	*Snapshot[*ring.MessageQueue]
	capacity int
}

func OpenMessageStore(dir string, capacity int, opts ...Option) (*MessageStore, error) {
	s, err := Open[*ring.MessageQueue]("messages", filepath.Join(dir, messagesFileName), opts...)
	if err != nil {
		return nil, err
	}
	return &MessageStore{Snapshot: s, capacity: capacity}, nil
}

func (m *MessageStore) Create(chatID int) error {
	return m.mutate(func(entries map[int]*ring.MessageQueue) error {
		if _, ok := entries[chatID]; ok {
			return ErrQueueExists
		}
		entries[chatID] = ring.New(chatID, m.capacity)
		return nil
	})
}

// Push appends msg to its chat's ring. It returns ErrNotFound if the chat has no ring.
func (m *MessageStore) Push(msg types.Message) error {
	return m.Update(msg.ChatID, func(q *ring.MessageQueue) (*ring.MessageQueue, error) {
		q.Push(msg)
		return q, nil
	})
}
