// Package notify implements the notification dispatcher: per-recipient
// per-channel rate limiting, encrypted content at rest, a closed channel
// enum dispatched through stub transports, and a retry/backoff schedule.
package notify

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/lastmile/courier-core/internal/crypto"
	"github.com/lastmile/courier-core/internal/ids"
)

// Channel is the closed set of delivery channels.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelPush     Channel = "push"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelUSSD     Channel = "ussd"
	ChannelEmail    Channel = "email"
)

func (c Channel) valid() bool {
	switch c {
	case ChannelSMS, ChannelPush, ChannelWhatsApp, ChannelUSSD, ChannelEmail:
		return true
	}
	return false
}

// Priority controls quiet-hours and preference enforcement.
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityCritical Priority = "critical"
)

// Status is the notification delivery lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

var (
	// ErrRateLimited is returned when a recipient/channel bucket is exhausted.
	ErrRateLimited = errors.New("notify: rate limit exceeded")
	// ErrChannelInvalid is returned for a channel outside the closed enum.
	ErrChannelInvalid = errors.New("notify: invalid channel")
	// ErrChannelNotPreferred is returned when the recipient has not opted
	// into channel and priority is not critical.
	ErrChannelNotPreferred = errors.New("notify: channel not in recipient preferences")
	// ErrQuietHours is returned when a normal-priority send falls inside the
	// recipient's quiet window.
	ErrQuietHours = errors.New("notify: recipient is in quiet hours")
	// ErrStatusRegression is returned when a delivery-receipt callback would
	// move a notification backward in the pending -> sent -> delivered ->
	// read lifecycle, e.g. a late "delivered" webhook arriving after "read".
	ErrStatusRegression = errors.New("notify: status transition would regress")
)

// statusRank orders the delivery lifecycle for monotonic-transition checks.
// failed is deliberately absent: a retry exhausting into failed is not part
// of this forward progression and is set directly by attempt, not transition.
var statusRank = map[Status]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

const (
	bucketCapacity = 10
	bucketWindow   = 60 * time.Second
	maxRetries     = 5
)

// retrySchedule is the fixed backoff sequence between retries, indexed by
// attempt number (0-based, before the attempt that follows it).
var retrySchedule = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	30 * time.Second,
	60 * time.Second,
	300 * time.Second,
}

// Preferences is a recipient's per-channel opt-in and quiet hours.
type Preferences struct {
	Channels []Channel
	Quiet    *QuietWindow
}

// QuietWindow is a daily HH:MM-HH:MM window in the recipient's local
// reckoning (the dispatcher itself is timezone-agnostic; callers pass
// already-localized Start/End).
type QuietWindow struct {
	StartMinute int // minutes since midnight, [0,1440)
	EndMinute   int
}

func (q *QuietWindow) contains(minuteOfDay int) bool {
	if q == nil {
		return false
	}
	if q.StartMinute == q.EndMinute {
		return false
	}
	if q.StartMinute < q.EndMinute {
		return minuteOfDay >= q.StartMinute && minuteOfDay < q.EndMinute
	}
	// wraps midnight
	return minuteOfDay >= q.StartMinute || minuteOfDay < q.EndMinute
}

// Notification is a NotificationRecord.
type Notification struct {
	ID             string
	RecipientID    string
	Channel        Channel
	TemplateID     string
	Priority       Priority
	Status         Status
	Attempts       int
	FailureReason  string
	CreatedAt      time.Time
	SentAt         time.Time
	DeliveredAt    time.Time
	ReadAt         time.Time
	NextRetryAt    time.Time
	contentCipher  string
}

type bucket struct {
	count   int
	resetAt time.Time
}

// Transport sends already-encrypted-at-rest content over a single channel.
// Implementations are expected to be stubs per the dispatcher's own
// Non-goals around real carrier integration.
type Transport interface {
	Send(n Notification, plaintext map[string]string) error
}

// Dispatcher tracks notifications, rate-limit buckets, and recipient
// preferences. Safe for concurrent use behind a single mutex.
type Dispatcher struct {
	mu            sync.Mutex
	buckets       map[string]*bucket // recipientID|channel -> bucket
	notifications map[string]*Notification
	order         []string
	prefs         map[string]Preferences

	masterKey  []byte
	transports map[Channel]Transport
	clock      func() time.Time
}

// Options configures a Dispatcher.
type Options struct {
	MasterKey  []byte
	Transports map[Channel]Transport // optional per-channel override
}

// New returns a Dispatcher with stub transports for every channel not
// explicitly overridden in opt.Transports.
func New(opt Options) *Dispatcher {
	d := &Dispatcher{
		buckets:       make(map[string]*bucket),
		notifications: make(map[string]*Notification),
		prefs:         make(map[string]Preferences),
		masterKey:     opt.MasterKey,
		transports:    make(map[Channel]Transport),
		clock:         func() time.Time { return time.Now().UTC() },
	}
	for _, c := range []Channel{ChannelSMS, ChannelPush, ChannelWhatsApp, ChannelUSSD, ChannelEmail} {
		d.transports[c] = &stubTransport{channel: c}
	}
	for c, t := range opt.Transports {
		d.transports[c] = t
	}
	return d
}

// SetPreferences stores a recipient's channel/quiet-hours preferences.
func (d *Dispatcher) SetPreferences(recipientID string, p Preferences) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prefs[recipientID] = p
}

// Send enqueues and immediately attempts a notification. Channel must be one
// of the closed enum values. priority defaults to normal when empty.
func (d *Dispatcher) Send(recipientID string, channel Channel, templateID string, content map[string]string, priority Priority) (Notification, error) {
	if !channel.valid() {
		return Notification{}, ErrChannelInvalid
	}
	if priority == "" {
		priority = PriorityNormal
	}

	d.mu.Lock()
	if err := d.checkPreferences(recipientID, channel, priority); err != nil {
		d.mu.Unlock()
		return Notification{}, err
	}
	if !d.takeToken(recipientID, channel) {
		d.mu.Unlock()
		return Notification{}, ErrRateLimited
	}
	d.mu.Unlock()

	payload, err := json.Marshal(content)
	if err != nil {
		return Notification{}, err
	}
	ct, err := crypto.Encrypt(d.masterKey, notificationContext(recipientID, channel), payload)
	if err != nil {
		return Notification{}, err
	}

	n := &Notification{
		ID:            ids.New(),
		RecipientID:   recipientID,
		Channel:       channel,
		TemplateID:    templateID,
		Priority:      priority,
		Status:        StatusPending,
		CreatedAt:     d.clock(),
		contentCipher: ct,
	}

	d.mu.Lock()
	d.notifications[n.ID] = n
	d.order = append(d.order, n.ID)
	d.mu.Unlock()

	d.attempt(n, content)
	return *n, nil
}

func (d *Dispatcher) checkPreferences(recipientID string, channel Channel, priority Priority) error {
	prefs, ok := d.prefs[recipientID]
	if !ok {
		return nil
	}
	if priority != PriorityCritical {
		if len(prefs.Channels) > 0 && !containsChannel(prefs.Channels, channel) {
			return ErrChannelNotPreferred
		}
		if prefs.Quiet != nil {
			now := d.clock()
			minuteOfDay := now.Hour()*60 + now.Minute()
			if prefs.Quiet.contains(minuteOfDay) {
				return ErrQuietHours
			}
		}
	}
	return nil
}

func containsChannel(cs []Channel, c Channel) bool {
	for _, x := range cs {
		if x == c {
			return true
		}
	}
	return false
}

// takeToken consumes one token from the recipient/channel bucket, lazily
// resetting it if resetAt has passed. Must be called with the lock held.
func (d *Dispatcher) takeToken(recipientID string, channel Channel) bool {
	key := string(channel) + "|" + recipientID
	now := d.clock()
	b, ok := d.buckets[key]
	if !ok || now.After(b.resetAt) {
		b = &bucket{count: 0, resetAt: now.Add(bucketWindow)}
		d.buckets[key] = b
	}
	if b.count >= bucketCapacity {
		return false
	}
	b.count++
	return true
}

// attempt runs the transport for the channel and records the outcome,
// scheduling a retry per retrySchedule on failure up to maxRetries.
func (d *Dispatcher) attempt(n *Notification, content map[string]string) {
	t, ok := d.transports[n.Channel]
	now := d.clock()

	d.mu.Lock()
	n.Attempts++
	d.mu.Unlock()

	var sendErr error
	if !ok || t == nil {
		sendErr = errors.New("notify: no transport registered for channel")
	} else {
		sendErr = t.Send(*n, content)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if sendErr == nil {
		n.Status = StatusSent
		n.SentAt = now
		n.NextRetryAt = time.Time{}
		return
	}

	n.FailureReason = sendErr.Error()
	if n.Attempts >= maxRetries {
		n.Status = StatusFailed
		n.NextRetryAt = time.Time{}
		return
	}
	idx := n.Attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(retrySchedule) {
		idx = len(retrySchedule) - 1
	}
	n.NextRetryAt = now.Add(retrySchedule[idx])
}

// RetryDue is called by the background retry ticker; it re-attempts every
// pending notification whose NextRetryAt has passed.
func (d *Dispatcher) RetryDue(decrypted map[string]map[string]string) int {
	now := d.clock()
	d.mu.Lock()
	var due []*Notification
	for _, id := range d.order {
		n := d.notifications[id]
		if n.Status == StatusSent || n.Status == StatusDelivered || n.Status == StatusRead || n.Status == StatusFailed {
			continue
		}
		if n.NextRetryAt.IsZero() || now.Before(n.NextRetryAt) {
			continue
		}
		due = append(due, n)
	}
	d.mu.Unlock()

	for _, n := range due {
		d.attempt(n, decrypted[n.ID])
	}
	return len(due)
}

// MarkDelivered/MarkRead record delivery-receipt callbacks from a channel.
func (d *Dispatcher) MarkDelivered(id string) error {
	return d.transition(id, StatusDelivered)
}

func (d *Dispatcher) MarkRead(id string) error {
	return d.transition(id, StatusRead)
}

// transition advances n toward status, enforcing monotonic progression: a
// target that ranks behind the notification's current status is rejected
// rather than applied. Reaching read implies delivered, so MarkRead on a
// notification that skipped straight from sent also backfills DeliveredAt.
func (d *Dispatcher) transition(id string, status Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.notifications[id]
	if !ok {
		return errors.New("notify: notification not found")
	}
	if statusRank[status] < statusRank[n.Status] {
		return ErrStatusRegression
	}
	now := d.clock()
	if status == StatusDelivered && n.DeliveredAt.IsZero() {
		n.DeliveredAt = now
	}
	if status == StatusRead {
		if n.DeliveredAt.IsZero() {
			n.DeliveredAt = now
		}
		n.ReadAt = now
	}
	n.Status = status
	return nil
}

// Get returns a notification by id.
func (d *Dispatcher) Get(id string) (Notification, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.notifications[id]
	if !ok {
		return Notification{}, false
	}
	return *n, true
}

// ListForRecipient returns a recipient's notifications, most recent first.
func (d *Dispatcher) ListForRecipient(recipientID string) []Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Notification, 0)
	for i := len(d.order) - 1; i >= 0; i-- {
		n := d.notifications[d.order[i]]
		if n.RecipientID == recipientID {
			out = append(out, *n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func notificationContext(recipientID string, channel Channel) string {
	return "notify:" + string(channel) + ":" + recipientID
}

// stubTransport is the default transport for every channel: it always
// succeeds without contacting any real carrier, per the dispatcher's own
// scope around real SMS/push/WhatsApp/USSD/email integration.
type stubTransport struct {
	channel Channel
}

func (s *stubTransport) Send(n Notification, plaintext map[string]string) error {
	return nil
}
