package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/asheshgoplani/cursor-relay/internal/config"
	"github.com/asheshgoplani/cursor-relay/internal/logging"
	"github.com/asheshgoplani/cursor-relay/internal/relay"
)

const pushSubscriptionsFileName = "push_subscriptions.json"

var pushLog = logging.ForComponent(logging.CompPush)

type pushSubscription struct {
	Endpoint       string               `json:"endpoint"`
	ExpirationTime any                  `json:"expirationTime,omitempty"`
	Keys           pushSubscriptionKeys `json:"keys"`
	ClientFocused  *bool                `json:"clientFocused,omitempty"`
	FocusUpdatedAt time.Time            `json:"focusUpdatedAt,omitempty"`
}

type pushSubscriptionKeys struct {
	P256DH string `json:"p256dh"`
	Auth   string `json:"auth"`
}

func (s pushSubscription) normalize() pushSubscription {
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	s.Keys.P256DH = strings.TrimSpace(s.Keys.P256DH)
	s.Keys.Auth = strings.TrimSpace(s.Keys.Auth)
	return s
}

func (s pushSubscription) validate() error {
	sub := s.normalize()
	if sub.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if sub.Keys.P256DH == "" {
		return fmt.Errorf("keys.p256dh is required")
	}
	if sub.Keys.Auth == "" {
		return fmt.Errorf("keys.auth is required")
	}
	return nil
}

type pushSubscriptionFile struct {
	UpdatedAt     time.Time          `json:"updatedAt"`
	Subscriptions []pushSubscription `json:"subscriptions"`
}

type pushSubscriptionStore interface {
	List(ctx context.Context) ([]pushSubscription, error)
	Upsert(ctx context.Context, sub pushSubscription) error
	UpdateFocusByEndpoint(ctx context.Context, endpoint string, focused bool) error
	RemoveByEndpoint(ctx context.Context, endpoint string) error
	Count(ctx context.Context) (int, error)
}

type pushSubscriptionFileStore struct {
	path string
	mu   sync.Mutex
}

func newPushSubscriptionFileStore() (*pushSubscriptionFileStore, error) {
	dir, err := config.GetRelayDir()
	if err != nil {
		return nil, fmt.Errorf("resolve relay dir: %w", err)
	}
	return &pushSubscriptionFileStore{
		path: filepath.Join(dir, pushSubscriptionsFileName),
	}, nil
}

func (s *pushSubscriptionFileStore) List(_ context.Context) ([]pushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	out := make([]pushSubscription, len(data.Subscriptions))
	copy(out, data.Subscriptions)
	return out, nil
}

func (s *pushSubscriptionFileStore) Count(ctx context.Context) (int, error) {
	subs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(subs), nil
}

func (s *pushSubscriptionFileStore) Upsert(_ context.Context, sub pushSubscription) error {
	sub = sub.normalize()
	if err := sub.validate(); err != nil {
		return err
	}
	if sub.ClientFocused != nil && sub.FocusUpdatedAt.IsZero() {
		sub.FocusUpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readLocked()
	if err != nil {
		return err
	}

	updated := false
	for i := range data.Subscriptions {
		if data.Subscriptions[i].Endpoint != sub.Endpoint {
			continue
		}
		// Preserve last known focus state unless the caller sends one.
		if sub.ClientFocused == nil && data.Subscriptions[i].ClientFocused != nil {
			sub.ClientFocused = data.Subscriptions[i].ClientFocused
			sub.FocusUpdatedAt = data.Subscriptions[i].FocusUpdatedAt
		}
		data.Subscriptions[i] = sub
		updated = true
		break
	}
	if !updated {
		data.Subscriptions = append(data.Subscriptions, sub)
	}
	data.UpdatedAt = time.Now().UTC()

	return s.writeLocked(data)
}

func (s *pushSubscriptionFileStore) UpdateFocusByEndpoint(_ context.Context, endpoint string, focused bool) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readLocked()
	if err != nil {
		return err
	}

	found := false
	for i := range data.Subscriptions {
		if data.Subscriptions[i].Endpoint != endpoint {
			continue
		}
		focusedCopy := focused
		data.Subscriptions[i].ClientFocused = &focusedCopy
		data.Subscriptions[i].FocusUpdatedAt = time.Now().UTC()
		found = true
		break
	}
	if !found {
		return nil
	}

	data.UpdatedAt = time.Now().UTC()
	return s.writeLocked(data)
}

func (s *pushSubscriptionFileStore) RemoveByEndpoint(_ context.Context, endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readLocked()
	if err != nil {
		return err
	}

	filtered := make([]pushSubscription, 0, len(data.Subscriptions))
	for _, sub := range data.Subscriptions {
		if sub.Endpoint == endpoint {
			continue
		}
		filtered = append(filtered, sub)
	}

	data.Subscriptions = filtered
	data.UpdatedAt = time.Now().UTC()
	return s.writeLocked(data)
}

func (s *pushSubscriptionFileStore) readLocked() (*pushSubscriptionFile, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &pushSubscriptionFile{
				UpdatedAt:     time.Now().UTC(),
				Subscriptions: []pushSubscription{},
			}, nil
		}
		return nil, fmt.Errorf("read push subscriptions: %w", err)
	}

	var data pushSubscriptionFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse push subscriptions: %w", err)
	}
	if data.Subscriptions == nil {
		data.Subscriptions = []pushSubscription{}
	}
	return &data, nil
}

func (s *pushSubscriptionFileStore) writeLocked(data *pushSubscriptionFile) error {
	if data == nil {
		data = &pushSubscriptionFile{Subscriptions: []pushSubscription{}}
	}
	if data.Subscriptions == nil {
		data.Subscriptions = []pushSubscription{}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("mkdir push subscription dir: %w", err)
	}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal push subscriptions: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write temp push subscriptions: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename push subscriptions: %w", err)
	}
	return nil
}

type webPushSender interface {
	Send(payload []byte, sub pushSubscription) (int, error)
}

type vapidPushSender struct {
	subject    string
	publicKey  string
	privateKey string
}

func (s *vapidPushSender) Send(payload []byte, sub pushSubscription) (int, error) {
	sub = sub.normalize()
	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256DH,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.subject,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             3600,
	})
	if resp != nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	if err != nil {
		return status, err
	}
	if status >= 400 {
		return status, fmt.Errorf("push gateway status %d", status)
	}
	return status, nil
}

// pushReply is one conversation that gained assistant messages since the
// previous sync.
type pushReply struct {
	Conv     relay.Conversation
	NewCount int
	Latest   string // text of the newest assistant message
}

type pushMessage struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Tag       string `json:"tag,omitempty"`
	Renotify  bool   `json:"renotify,omitempty"`
	RoomID    string `json:"roomId,omitempty"`
	Room      string `json:"room,omitempty"`
	Timestamp string `json:"timestamp"`
}

type pushAPI interface {
	Start(ctx context.Context)
	TriggerSync()
	Enabled() bool
	PublicKey() string
	Subject() string
	SubscriptionCount(ctx context.Context) (int, error)
	UpsertSubscription(ctx context.Context, sub pushSubscription) error
	UpdateSubscriptionFocus(ctx context.Context, endpoint string, focused bool) error
	RemoveSubscriptionByEndpoint(ctx context.Context, endpoint string) error
}

type pushService struct {
	enabled bool

	publicKey  string
	privateKey string
	subject    string

	snapshot func() []relay.Conversation
	store    pushSubscriptionStore
	sender   webPushSender

	startOnce sync.Once
	triggerCh chan struct{}

	mu          sync.Mutex
	initialized bool
	lastCounts  map[string]int // assistant messages per conversation id
}

func newPushService(cfg Config) (pushAPI, error) {
	if !cfg.PushEnabled {
		return nil, nil
	}

	publicKey := strings.TrimSpace(cfg.PushVAPIDPublicKey)
	privateKey := strings.TrimSpace(cfg.PushVAPIDPrivateKey)
	if publicKey == "" || privateKey == "" {
		return nil, fmt.Errorf("push enabled but vapid keys are missing")
	}

	subject := strings.TrimSpace(cfg.PushSubject)
	if subject == "" {
		subject = "mailto:cursor-relay@localhost"
	}

	if cfg.Snapshot == nil {
		return nil, fmt.Errorf("push requires a snapshot source")
	}

	store, err := newPushSubscriptionFileStore()
	if err != nil {
		return nil, err
	}

	return &pushService{
		enabled:    true,
		publicKey:  publicKey,
		privateKey: privateKey,
		subject:    subject,
		snapshot:   cfg.Snapshot,
		store:      store,
		sender:     &vapidPushSender{subject: subject, publicKey: publicKey, privateKey: privateKey},
		triggerCh:  make(chan struct{}, 1),
		lastCounts: make(map[string]int),
	}, nil
}

func (p *pushService) Start(ctx context.Context) {
	if p == nil || !p.enabled {
		return
	}
	p.startOnce.Do(func() {
		go p.run(ctx)
	})
}

// TriggerSync is called after every broadcast. Non-blocking; a pending
// trigger is enough since syncOnce always reads the latest snapshot.
func (p *pushService) TriggerSync() {
	if p == nil || !p.enabled {
		return
	}
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

func (p *pushService) Enabled() bool {
	return p != nil && p.enabled
}

func (p *pushService) PublicKey() string {
	if p == nil {
		return ""
	}
	return p.publicKey
}

func (p *pushService) Subject() string {
	if p == nil {
		return ""
	}
	return p.subject
}

func (p *pushService) SubscriptionCount(ctx context.Context) (int, error) {
	if p == nil || p.store == nil {
		return 0, nil
	}
	return p.store.Count(ctx)
}

func (p *pushService) UpsertSubscription(ctx context.Context, sub pushSubscription) error {
	if p == nil || !p.enabled || p.store == nil {
		return fmt.Errorf("push service is not configured")
	}
	return p.store.Upsert(ctx, sub)
}

func (p *pushService) RemoveSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	if p == nil || !p.enabled || p.store == nil {
		return fmt.Errorf("push service is not configured")
	}
	return p.store.RemoveByEndpoint(ctx, endpoint)
}

func (p *pushService) UpdateSubscriptionFocus(ctx context.Context, endpoint string, focused bool) error {
	if p == nil || !p.enabled || p.store == nil {
		return fmt.Errorf("push service is not configured")
	}
	return p.store.UpdateFocusByEndpoint(ctx, endpoint, focused)
}

func (p *pushService) run(ctx context.Context) {
	// Prime the baseline so startup does not replay the entire history as
	// notifications.
	p.syncOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.triggerCh:
			p.syncOnce(ctx)
		}
	}
}

func (p *pushService) syncOnce(ctx context.Context) {
	convs := p.snapshot()

	current := make(map[string]int, len(convs))
	byID := make(map[string]relay.Conversation, len(convs))
	latest := make(map[string]string, len(convs))
	for _, conv := range convs {
		n := 0
		for _, m := range conv.Messages {
			if m.IsUser {
				continue
			}
			n++
			latest[conv.ID] = m.Text
		}
		current[conv.ID] = n
		byID[conv.ID] = conv
	}

	replies := make([]pushReply, 0)

	p.mu.Lock()
	if !p.initialized {
		p.lastCounts = current
		p.initialized = true
		p.mu.Unlock()
		return
	}

	for id, n := range current {
		if n <= p.lastCounts[id] {
			continue
		}
		replies = append(replies, pushReply{
			Conv:     byID[id],
			NewCount: n - p.lastCounts[id],
			Latest:   latest[id],
		})
		pushLog.Debug("push_reply_detected",
			slog.String("conversation", id),
			slog.Int("new", n-p.lastCounts[id]))
	}

	p.lastCounts = current
	p.mu.Unlock()

	for _, reply := range replies {
		p.notifySubscribers(ctx, reply)
	}
}

func (p *pushService) notifySubscribers(ctx context.Context, reply pushReply) {
	if p == nil || p.store == nil || p.sender == nil {
		return
	}

	subs, err := p.store.List(ctx)
	if err != nil {
		pushLog.Error("push_list_subscriptions_failed", slog.String("error", err.Error()))
		return
	}
	if len(subs) == 0 {
		return
	}
	pushLog.Debug("push_notifying",
		slog.String("conversation", reply.Conv.ID),
		slog.Int("subscribers", len(subs)))

	msg := pushMessage{
		Title:     pushTitle(reply.Conv),
		Body:      pushBody(reply),
		Tag:       "cursor-relay-" + reply.Conv.ID,
		Renotify:  true,
		RoomID:    reply.Conv.ID,
		Room:      reply.Conv.Name,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		pushLog.Error("push_marshal_failed", slog.String("error", err.Error()))
		return
	}

	for _, sub := range subs {
		if !shouldNotifySubscription(sub) {
			pushLog.Debug("push_skipped",
				slog.String("endpoint", endpointForLog(sub.Endpoint)),
				slog.String("reason", "client_focused"))
			continue
		}
		statusCode, err := p.sender.Send(payload, sub)
		if err == nil {
			pushLog.Debug("push_sent",
				slog.String("endpoint", endpointForLog(sub.Endpoint)),
				slog.Int("http_status", statusCode),
				slog.String("conversation", reply.Conv.ID))
			continue
		}

		pushLog.Error("push_send_failed",
			slog.String("endpoint", endpointForLog(sub.Endpoint)),
			slog.Int("http_status", statusCode),
			slog.String("error", err.Error()))
		if statusCode == http.StatusGone || statusCode == http.StatusNotFound {
			_ = p.store.RemoveByEndpoint(ctx, sub.Endpoint)
		}
	}
}

func pushTitle(conv relay.Conversation) string {
	name := strings.TrimSpace(conv.Name)
	if name == "" {
		name = conv.ID
	}
	return name
}

const pushBodyLimit = 120

func pushBody(reply pushReply) string {
	if reply.NewCount > 1 {
		return fmt.Sprintf("%d new replies", reply.NewCount)
	}

	for _, line := range strings.Split(reply.Latest, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > pushBodyLimit {
			return string(runes[:pushBodyLimit]) + "..."
		}
		return line
	}
	return "New reply"
}

// shouldNotifySubscription suppresses pushes only for clients that have
// explicitly reported themselves focused; a subscription that never sends
// presence is assumed to be away.
func shouldNotifySubscription(sub pushSubscription) bool {
	if sub.ClientFocused == nil {
		return true
	}
	return !*sub.ClientFocused
}

func endpointForLog(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err == nil && u.Host != "" {
		return u.Host
	}
	endpoint = strings.TrimSpace(endpoint)
	if len(endpoint) <= 48 {
		return endpoint
	}
	return endpoint[:48] + "..."
}
