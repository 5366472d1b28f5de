package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/kvstore/internal/kvdb"
)

// DefaultFeedBuffer is the number of change messages a ChangeFeed queues
// before it starts dropping.
const DefaultFeedBuffer = 256

// Publisher is the subset of Client a ChangeFeed needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// ChangeMessage is the JSON payload published for each committed write.
type ChangeMessage struct {
	Database     string        `json:"database"`
	ConnectionID string        `json:"connection_id"`
	Owner        string        `json:"owner"`
	Kind         kvdb.TxKind   `json:"kind"`
	Changes      []kvdb.Change `json:"changes"`
	At           time.Time     `json:"at"`
}

// DecodeChangeMessage parses a change feed payload.
func DecodeChangeMessage(payload []byte) (ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ChangeMessage{}, fmt.Errorf("decoding change message: %w", err)
	}
	return msg, nil
}

type outbound struct {
	topic   string
	payload []byte
}

// FeedOptions configures a ChangeFeed.
type FeedOptions struct {
	// QoS for change messages.
	QoS byte

	// Buffer is the queue length. Zero means DefaultFeedBuffer.
	Buffer int

	// Logger receives publish failures and drops. Nil discards them.
	Logger Logger
}

// ChangeFeed is a kvdb.Observer that publishes committed writes to MQTT.
//
// ObserveTransaction never blocks the committing goroutine: messages
// are queued and published by a background goroutine, and dropped when
// the queue is full.
type ChangeFeed struct {
	pub    Publisher
	topics Topics
	qos    byte
	logger Logger

	mu     sync.RWMutex // Protects closed and sends on queue
	closed bool
	queue  chan outbound
	done   chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewChangeFeed starts a feed publishing through pub.
func NewChangeFeed(pub Publisher, topics Topics, opts FeedOptions) *ChangeFeed {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultFeedBuffer
	}
	f := &ChangeFeed{
		pub:    pub,
		topics: topics,
		qos:    opts.QoS,
		logger: opts.Logger,
		queue:  make(chan outbound, opts.Buffer),
		done:   make(chan struct{}),
	}
	go f.run()
	return f
}

// ObserveTransaction queues a message for every committed transaction
// that changed at least one key.
func (f *ChangeFeed) ObserveTransaction(e kvdb.TxEvent) {
	if e.Outcome != kvdb.OutcomeCommit || len(e.Changes) == 0 {
		return
	}

	payload, err := json.Marshal(ChangeMessage{
		Database:     e.Database,
		ConnectionID: e.ConnectionID,
		Owner:        string(e.Owner),
		Kind:         e.Kind,
		Changes:      e.Changes,
		At:           e.At,
	})
	if err != nil {
		f.warn("change message encoding failed", "database", e.Database, "error", err)
		return
	}
	msg := outbound{topic: f.topics.Changes(e.Database), payload: payload}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- msg:
	default:
		f.dropped.Add(1)
		f.warn("change feed full, message dropped", "database", e.Database, "changes", len(e.Changes))
	}
}

func (f *ChangeFeed) run() {
	defer close(f.done)
	for msg := range f.queue {
		if err := f.pub.Publish(msg.topic, msg.payload, f.qos, false); err != nil {
			f.warn("change message publish failed", "topic", msg.topic, "error", err)
			continue
		}
		f.published.Add(1)
	}
}

func (f *ChangeFeed) warn(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Warn(msg, args...)
	}
}

// Published returns the number of messages delivered to the publisher.
func (f *ChangeFeed) Published() uint64 { return f.published.Load() }

// Dropped returns the number of messages discarded because the queue was full.
func (f *ChangeFeed) Dropped() uint64 { return f.dropped.Load() }

// Close stops accepting events and waits for queued messages to be
// published. Calling Close more than once returns ErrFeedClosed.
func (f *ChangeFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFeedClosed
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	<-f.done
	return nil
}
