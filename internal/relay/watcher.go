package relay

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/asheshgoplani/cursor-relay/internal/cursordb"
	"github.com/asheshgoplani/cursor-relay/internal/logging"
)

var log = logging.ForComponent(logging.CompRelay)

// DefaultPollInterval is the fixed cadence between store reads. The cadence
// never adapts; a store-file watch may only wake a cycle early.
const DefaultPollInterval = 5 * time.Second

// Store is the read side of the conversation store the watcher polls.
// cursordb.DB satisfies it; tests substitute fakes.
type Store interface {
	LoadComposers() ([]cursordb.ComposerRecord, error)
	LoadBubbles() ([]cursordb.BubbleRecord, error)
}

// Sink receives each serialized sync payload that passed change detection,
// together with the conversations it encodes.
type Sink func(payload []byte, convs []Conversation)

// Watcher polls the store on a fixed cadence, rebuilds the conversation
// snapshot, and hands changed payloads to the sink. Change detection hashes
// the serialized payload; an unchanged hash suppresses the broadcast, the
// sole suppression rule. Store-read failures skip the cycle and the next
// tick starts fresh.
type Watcher struct {
	store    Store
	sink     Sink
	interval time.Duration

	mu           sync.Mutex
	lastHash     string
	forceNext    bool
	lastSnapshot []Conversation
	lastPoll     time.Time
	lastSync     time.Time

	group     singleflight.Group
	wakeCh    chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once
}

// Stats is a point-in-time view of watcher activity.
type Stats struct {
	LastPoll      time.Time
	LastBroadcast time.Time
	Conversations int
}

// NewWatcher creates a watcher over store. interval <= 0 selects the
// default cadence.
func NewWatcher(store Store, sink Sink, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{
		store:    store,
		sink:     sink,
		interval: interval,
		wakeCh:   make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
	}
}

// Start begins the poll loop (non-blocking).
func (w *Watcher) Start() {
	go w.loop()
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.closeCh:
			return
		case <-ticker.C:
			w.Poll()
		case <-w.wakeCh:
			w.Poll()
		}
	}
}

// Poll runs one read-rebuild-broadcast cycle now. Concurrent calls collapse
// into a single execution.
func (w *Watcher) Poll() {
	w.group.Do("poll", func() (interface{}, error) {
		w.pollOnce()
		return nil, nil
	})
}

// pollOnce reads the store, rebuilds the snapshot, and broadcasts when the
// payload hash moved or a forced resync is armed. The force flag survives a
// failed read so a pending resync is not lost to a transient store error.
func (w *Watcher) pollOnce() {
	logging.Aggregate(logging.CompRelay, "store_poll")

	headers, err := w.store.LoadComposers()
	if err != nil {
		log.Warn("store_read_failed", slog.String("error", err.Error()))
		return
	}
	bubbles, err := w.store.LoadBubbles()
	if err != nil {
		log.Warn("store_read_failed", slog.String("error", err.Error()))
		return
	}

	convs := BuildSnapshot(headers, bubbles)
	payload, err := MarshalSync(convs)
	if err != nil {
		log.Error("sync_marshal_failed", slog.String("error", err.Error()))
		return
	}
	hash := HashPayload(payload)

	w.mu.Lock()
	changed := w.forceNext || hash != w.lastHash
	w.forceNext = false
	w.lastHash = hash
	w.lastSnapshot = convs
	w.lastPoll = time.Now()
	if changed {
		w.lastSync = w.lastPoll
	}
	w.mu.Unlock()

	if !changed {
		logging.Aggregate(logging.CompRelay, "sync_suppressed")
		return
	}

	log.Debug("sync_changed", slog.Int("conversations", len(convs)))
	if w.sink != nil {
		w.sink(payload, convs)
	}
}

// ForceSync arms a one-shot bypass of change suppression and wakes the
// loop. The next completed cycle broadcasts even when the hash is
// unchanged, and every connected client receives it.
func (w *Watcher) ForceSync() {
	w.mu.Lock()
	w.forceNext = true
	w.mu.Unlock()
	w.wake()
}

// Nudge wakes the loop for an eager cycle without touching suppression. A
// store-file event that changes nothing broadcasts nothing.
func (w *Watcher) Nudge() {
	w.wake()
}

func (w *Watcher) wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

// Snapshot returns the most recent conversation snapshot. The slice is
// replaced wholesale each cycle; callers must not modify it.
func (w *Watcher) Snapshot() []Conversation {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSnapshot
}

// Stats reports the last poll and broadcast times and the size of the
// current snapshot.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		LastPoll:      w.lastPoll,
		LastBroadcast: w.lastSync,
		Conversations: len(w.lastSnapshot),
	}
}

// Close stops the poll loop. Safe to call multiple times.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.closeCh)
	})
	return nil
}
