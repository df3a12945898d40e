package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/asheshgoplani/cursor-relay/internal/relay"
)

// fakePushStore keeps subscriptions in a map, keyed by endpoint.
type fakePushStore struct {
	mu   sync.Mutex
	subs map[string]pushSubscription
}

func newFakePushStore(subs ...pushSubscription) *fakePushStore {
	st := &fakePushStore{subs: make(map[string]pushSubscription)}
	for _, s := range subs {
		st.subs[s.Endpoint] = s
	}
	return st
}

func (f *fakePushStore) List(context.Context) ([]pushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pushSubscription, 0, len(f.subs))
	for _, s := range f.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

func (f *fakePushStore) Upsert(_ context.Context, sub pushSubscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[sub.Endpoint] = sub
	return nil
}

func (f *fakePushStore) UpdateFocusByEndpoint(_ context.Context, endpoint string, focused bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.subs[endpoint]; ok {
		s.ClientFocused = &focused
		f.subs[endpoint] = s
	}
	return nil
}

func (f *fakePushStore) RemoveByEndpoint(_ context.Context, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, endpoint)
	return nil
}

func (f *fakePushStore) Count(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs), nil
}

func (f *fakePushStore) has(endpoint string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[endpoint]
	return ok
}

type sentPush struct {
	endpoint string
	payload  []byte
}

// fakePushSender records every delivery attempt and answers with a fixed
// status.
type fakePushSender struct {
	mu         sync.Mutex
	statusCode int
	returnErr  error
	sent       []sentPush
}

func (f *fakePushSender) Send(payload []byte, sub pushSubscription) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPush{
		endpoint: sub.Endpoint,
		payload:  append([]byte(nil), payload...),
	})
	status := f.statusCode
	if status == 0 {
		status = http.StatusCreated
	}
	return status, f.returnErr
}

func (f *fakePushSender) sentPushes() []sentPush {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentPush, len(f.sent))
	copy(out, f.sent)
	return out
}

// rotatingSnapshot serves snapshots in sequence, sticking on the last one.
type rotatingSnapshot struct {
	mu    sync.Mutex
	steps [][]relay.Conversation
	idx   int
}

func (r *rotatingSnapshot) next() []relay.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.steps[r.idx]
	if r.idx < len(r.steps)-1 {
		r.idx++
	}
	return out
}

func newTestPushService(snapshot func() []relay.Conversation, store pushSubscriptionStore, sender webPushSender) *pushService {
	return &pushService{
		enabled:    true,
		publicKey:  "test-public",
		privateKey: "test-private",
		subject:    "mailto:test@example.com",
		snapshot:   snapshot,
		store:      store,
		sender:     sender,
		triggerCh:  make(chan struct{}, 1),
		lastCounts: make(map[string]int),
	}
}

func testSub(endpoint string) pushSubscription {
	return pushSubscription{
		Endpoint: endpoint,
		Keys:     pushSubscriptionKeys{P256DH: "p256-key", Auth: "auth-key"},
	}
}

// pushConv builds a conversation with one user message followed by the
// given assistant replies.
func pushConv(id, name string, assistantTexts ...string) relay.Conversation {
	msgs := []relay.Message{{Text: "user question", IsUser: true, CreatedAt: 100}}
	for i, text := range assistantTexts {
		msgs = append(msgs, relay.Message{Text: text, CreatedAt: int64(101 + i)})
	}
	return relay.Conversation{ID: id, Name: name, LastActivity: 200, Messages: msgs, Available: true}
}

func TestPushServiceNotifiesOnNewAssistantReply(t *testing.T) {
	ctx := context.Background()
	snaps := &rotatingSnapshot{steps: [][]relay.Conversation{
		{pushConv("c1", "Fix parser", "first answer")},
		{pushConv("c1", "Fix parser", "first answer", "second answer")},
	}}
	store := newFakePushStore(testSub("https://push.example/sub-1"))
	sender := &fakePushSender{}
	push := newTestPushService(snaps.next, store, sender)

	// First pass only primes the baseline.
	push.syncOnce(ctx)
	if n := len(sender.sentPushes()); n != 0 {
		t.Fatalf("payloads after baseline = %d, want 0", n)
	}

	push.syncOnce(ctx)
	sent := sender.sentPushes()
	if len(sent) != 1 {
		t.Fatalf("payloads = %d, want 1", len(sent))
	}

	var msg pushMessage
	if err := json.Unmarshal(sent[0].payload, &msg); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if msg.Title != "Fix parser" {
		t.Fatalf("title = %q, want %q", msg.Title, "Fix parser")
	}
	if msg.Body != "second answer" {
		t.Fatalf("body = %q, want %q", msg.Body, "second answer")
	}
	if msg.Tag != "cursor-relay-c1" {
		t.Fatalf("tag = %q, want %q", msg.Tag, "cursor-relay-c1")
	}
	if !msg.Renotify {
		t.Fatal("renotify = false, want true")
	}
	if msg.RoomID != "c1" || msg.Room != "Fix parser" {
		t.Fatalf("room = %q/%q, want c1/Fix parser", msg.RoomID, msg.Room)
	}
}

func TestPushServiceSuppressesUnchangedSnapshot(t *testing.T) {
	ctx := context.Background()
	conv := pushConv("c1", "Fix parser", "only answer")
	push := newTestPushService(
		func() []relay.Conversation { return []relay.Conversation{conv} },
		newFakePushStore(testSub("https://push.example/sub-1")),
		&fakePushSender{},
	)
	sender := push.sender.(*fakePushSender)

	push.syncOnce(ctx)
	push.syncOnce(ctx)
	push.syncOnce(ctx)
	if n := len(sender.sentPushes()); n != 0 {
		t.Fatalf("payloads for unchanged snapshot = %d, want 0", n)
	}
}

func TestPushServiceCountsMultipleNewReplies(t *testing.T) {
	ctx := context.Background()
	snaps := &rotatingSnapshot{steps: [][]relay.Conversation{
		{pushConv("c1", "Fix parser", "a")},
		{pushConv("c1", "Fix parser", "a", "b", "c")},
	}}
	sender := &fakePushSender{}
	push := newTestPushService(snaps.next, newFakePushStore(testSub("https://push.example/sub-1")), sender)

	push.syncOnce(ctx)
	push.syncOnce(ctx)

	sent := sender.sentPushes()
	if len(sent) != 1 {
		t.Fatalf("payloads = %d, want 1", len(sent))
	}
	var msg pushMessage
	if err := json.Unmarshal(sent[0].payload, &msg); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if msg.Body != "2 new replies" {
		t.Fatalf("body = %q, want %q", msg.Body, "2 new replies")
	}
}

func TestPushServiceSkipsFocusedClient(t *testing.T) {
	ctx := context.Background()
	focused, away := true, false
	subFocused := testSub("https://push.example/focused")
	subFocused.ClientFocused = &focused
	subAway := testSub("https://push.example/away")
	subAway.ClientFocused = &away

	snaps := &rotatingSnapshot{steps: [][]relay.Conversation{
		{pushConv("c1", "Fix parser", "a")},
		{pushConv("c1", "Fix parser", "a", "b")},
	}}
	sender := &fakePushSender{}
	push := newTestPushService(snaps.next, newFakePushStore(subFocused, subAway), sender)

	push.syncOnce(ctx)
	push.syncOnce(ctx)

	sent := sender.sentPushes()
	if len(sent) != 1 {
		t.Fatalf("payloads = %d, want 1", len(sent))
	}
	if sent[0].endpoint != "https://push.example/away" {
		t.Fatalf("notified endpoint = %q, want the unfocused one", sent[0].endpoint)
	}
}

// A subscription that never reported presence is treated as away and still
// gets notified.
func TestPushServiceNotifiesWhenPresenceUnknown(t *testing.T) {
	ctx := context.Background()
	snaps := &rotatingSnapshot{steps: [][]relay.Conversation{
		{pushConv("c1", "Fix parser", "a")},
		{pushConv("c1", "Fix parser", "a", "b")},
	}}
	sender := &fakePushSender{}
	push := newTestPushService(snaps.next, newFakePushStore(testSub("https://push.example/silent")), sender)

	push.syncOnce(ctx)
	push.syncOnce(ctx)

	sent := sender.sentPushes()
	if len(sent) != 1 {
		t.Fatalf("payloads = %d, want 1", len(sent))
	}
	if sent[0].endpoint != "https://push.example/silent" {
		t.Fatalf("notified endpoint = %q, want %q", sent[0].endpoint, "https://push.example/silent")
	}
}

func TestPushServiceRemovesExpiredSubscription(t *testing.T) {
	ctx := context.Background()
	snaps := &rotatingSnapshot{steps: [][]relay.Conversation{
		{pushConv("c1", "Fix parser", "a")},
		{pushConv("c1", "Fix parser", "a", "b")},
	}}
	store := newFakePushStore(testSub("https://push.example/stale"))
	sender := &fakePushSender{
		statusCode: http.StatusGone,
		returnErr:  fmt.Errorf("push gateway status %d", http.StatusGone),
	}
	push := newTestPushService(snaps.next, store, sender)

	push.syncOnce(ctx)
	push.syncOnce(ctx)

	if store.has("https://push.example/stale") {
		t.Fatal("expired subscription still present, want pruned")
	}
}

func TestPushBody(t *testing.T) {
	long := strings.Repeat("x", 150)
	tests := []struct {
		name  string
		reply pushReply
		want  string
	}{
		{"single reply uses latest text", pushReply{NewCount: 1, Latest: "short answer"}, "short answer"},
		{"multiple replies use a count", pushReply{NewCount: 3}, "3 new replies"},
		{"first non-blank line wins", pushReply{NewCount: 1, Latest: "\n\n  \nreal line\nmore"}, "real line"},
		{"long line truncated", pushReply{NewCount: 1, Latest: long}, strings.Repeat("x", 120) + "..."},
		{"blank latest falls back", pushReply{NewCount: 1, Latest: "   "}, "New reply"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pushBody(tt.reply); got != tt.want {
				t.Fatalf("pushBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPushTitleFallsBackToID(t *testing.T) {
	if got := pushTitle(relay.Conversation{ID: "c9", Name: "  "}); got != "c9" {
		t.Fatalf("pushTitle() = %q, want %q", got, "c9")
	}
	if got := pushTitle(relay.Conversation{ID: "c9", Name: "Deploy"}); got != "Deploy" {
		t.Fatalf("pushTitle() = %q, want %q", got, "Deploy")
	}
}

func TestShouldNotifySubscription(t *testing.T) {
	focused, away := true, false
	tests := []struct {
		name string
		sub  pushSubscription
		want bool
	}{
		{"no presence reported", pushSubscription{}, true},
		{"client focused", pushSubscription{ClientFocused: &focused}, false},
		{"client away", pushSubscription{ClientFocused: &away}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldNotifySubscription(tt.sub); got != tt.want {
				t.Fatalf("shouldNotifySubscription() = %t, want %t", got, tt.want)
			}
		})
	}
}

func TestPushSubscriptionValidate(t *testing.T) {
	valid := testSub("https://push.example/ok")
	if err := valid.validate(); err != nil {
		t.Fatalf("validate() error = %v, want nil", err)
	}

	missingEndpoint := valid
	missingEndpoint.Endpoint = "  "
	if err := missingEndpoint.validate(); err == nil {
		t.Fatal("validate() accepted a blank endpoint")
	}

	missingKey := valid
	missingKey.Keys.P256DH = ""
	if err := missingKey.validate(); err == nil {
		t.Fatal("validate() accepted missing p256dh")
	}

	missingAuth := valid
	missingAuth.Keys.Auth = ""
	if err := missingAuth.validate(); err == nil {
		t.Fatal("validate() accepted missing auth")
	}
}

func TestPushSubscriptionFileStoreRoundTrip(t *testing.T) {
	t.Setenv("CURSOR_RELAY_DIR", t.TempDir())
	ctx := context.Background()

	store, err := newPushSubscriptionFileStore()
	if err != nil {
		t.Fatalf("newPushSubscriptionFileStore() error = %v", err)
	}

	if err := store.Upsert(ctx, testSub("https://push.example/a")); err != nil {
		t.Fatalf("Upsert(a) error = %v", err)
	}
	if err := store.Upsert(ctx, testSub("https://push.example/b")); err != nil {
		t.Fatalf("Upsert(b) error = %v", err)
	}
	if count, err := store.Count(ctx); err != nil || count != 2 {
		t.Fatalf("Count() = %d, %v, want 2, nil", count, err)
	}

	// Focus state set via presence survives a later upsert that does not
	// carry one.
	if err := store.UpdateFocusByEndpoint(ctx, "https://push.example/a", true); err != nil {
		t.Fatalf("UpdateFocusByEndpoint() error = %v", err)
	}
	if err := store.Upsert(ctx, testSub("https://push.example/a")); err != nil {
		t.Fatalf("re-Upsert(a) error = %v", err)
	}
	subs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var a *pushSubscription
	for i := range subs {
		if subs[i].Endpoint == "https://push.example/a" {
			a = &subs[i]
		}
	}
	if a == nil {
		t.Fatal("subscription a missing after re-upsert")
	}
	if a.ClientFocused == nil || !*a.ClientFocused {
		t.Fatal("focus state lost across re-upsert")
	}

	// State persists on disk: a fresh store over the same directory sees
	// the removal.
	if err := store.RemoveByEndpoint(ctx, "https://push.example/b"); err != nil {
		t.Fatalf("RemoveByEndpoint() error = %v", err)
	}
	again, err := newPushSubscriptionFileStore()
	if err != nil {
		t.Fatalf("newPushSubscriptionFileStore() again error = %v", err)
	}
	if count, err := again.Count(ctx); err != nil || count != 1 {
		t.Fatalf("Count() after remove = %d, %v, want 1, nil", count, err)
	}
}

func TestNewPushServiceDisabled(t *testing.T) {
	svc, err := newPushService(Config{})
	if err != nil {
		t.Fatalf("newPushService() error = %v, want nil", err)
	}
	if svc != nil {
		t.Fatalf("newPushService() = %v, want nil for disabled push", svc)
	}
}

func TestNewPushServiceRequiresKeysAndSnapshot(t *testing.T) {
	t.Setenv("CURSOR_RELAY_DIR", t.TempDir())

	if _, err := newPushService(Config{PushEnabled: true}); err == nil {
		t.Fatal("newPushService() accepted missing vapid keys")
	}

	cfg := Config{
		PushEnabled:         true,
		PushVAPIDPublicKey:  "pub",
		PushVAPIDPrivateKey: "priv",
	}
	if _, err := newPushService(cfg); err == nil {
		t.Fatal("newPushService() accepted a nil snapshot source")
	}

	cfg.Snapshot = func() []relay.Conversation { return nil }
	svc, err := newPushService(cfg)
	if err != nil {
		t.Fatalf("newPushService() error = %v", err)
	}
	if svc == nil || !svc.Enabled() {
		t.Fatal("newPushService() returned a disabled service for a complete config")
	}
}
