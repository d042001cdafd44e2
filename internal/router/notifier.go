package router

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChangeType is the kind of a schema change.
type ChangeType int

const (
	TableCreated ChangeType = iota
	TableDeleted
)

func (t ChangeType) String() string {
	switch t {
	case TableCreated:
		return "table_created"
	case TableDeleted:
		return "table_deleted"
	default:
		return "unknown"
	}
}

// SchemaChange describes one user table created or deleted through the
// router. Changes made to the catalog by other writers are not published.
type SchemaChange struct {
	Type      ChangeType
	TableName string
	Keyspace  string
	Timestamp int64
}

// Notifier is an in-process pub/sub bus for schema changes.
type Notifier struct {
	subscribers sync.Map
	bufferSize  int
}

// NewNotifier creates a notifier whose subscriber channels hold bufferSize
// changes.
func NewNotifier(bufferSize int) *Notifier {
	return &Notifier{bufferSize: bufferSize}
}

// Publish sends a change to every matching subscriber. It never blocks: a
// subscriber whose channel is full misses the change.
func (n *Notifier) Publish(change SchemaChange) {
	n.subscribers.Range(func(_, value interface{}) bool {
		sub := value.(*Subscriber)
		if sub.matches(change.TableName) {
			sub.send(change)
		}
		return true
	})
}

// Subscribe registers a subscriber under id. A change is delivered when its
// table name starts with one of prefixes; no prefixes matches every table.
func (n *Notifier) Subscribe(id string, prefixes []string) *Subscriber {
	sub := &Subscriber{
		ID:       id,
		Prefixes: prefixes,
		Ch:       make(chan SchemaChange, n.bufferSize),
	}
	n.subscribers.Store(sub.ID, sub)
	return sub
}

// SubscribeAutoID is Subscribe with a generated id.
func (n *Notifier) SubscribeAutoID(prefixes ...string) *Subscriber {
	return n.Subscribe("sub_"+uuid.New().String(), prefixes)
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(id string) {
	if value, ok := n.subscribers.LoadAndDelete(id); ok {
		value.(*Subscriber).close()
	}
}

// Subscriber receives schema changes on Ch.
type Subscriber struct {
	ID       string
	Prefixes []string
	Ch       chan SchemaChange

	// mu orders sends against close; a Publish that loaded the subscriber
	// before Unsubscribe removed it may still be delivering.
	mu     sync.Mutex
	closed bool
}

// send delivers change without blocking. It drops the change when the
// channel is full or already closed.
func (s *Subscriber) send(change SchemaChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.Ch <- change:
	default:
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.Ch)
	}
}

func (s *Subscriber) matches(table string) bool {
	if len(s.Prefixes) == 0 {
		return true
	}
	for _, p := range s.Prefixes {
		if strings.HasPrefix(table, p) {
			return true
		}
	}
	return false
}

func newChange(t ChangeType, table string) SchemaChange {
	return SchemaChange{
		Type:      t,
		TableName: table,
		Keyspace:  UserKeyspace(table),
		Timestamp: time.Now().UnixNano(),
	}
}
