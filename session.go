package chatsync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/scylladb/go-set/strset"
	"github.com/sirupsen/logrus"
)

// SessionOption configures a SessionStore.
type SessionOption func(*SessionStore)

// WithSessionLogger sets the logger.
func WithSessionLogger(l logrus.FieldLogger) SessionOption {
	return func(s *SessionStore) { s.log = l }
}

// WithSessionMetrics sets the metrics sink.
func WithSessionMetrics(m *Metrics) SessionOption {
	return func(s *SessionStore) { s.metrics = m }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) SessionOption {
	return func(s *SessionStore) { s.now = now }
}

// WithIDGenerator overrides the identifier source. Generated ids that were
// already issued are discarded and regenerated.
func WithIDGenerator(gen func() string) SessionOption {
	return func(s *SessionStore) { s.newID = gen }
}

// ============================================================================
// SessionStore
// ============================================================================

// SessionStore is the in-memory authoritative model of all chats. It is the
// only writer of its DurableStore: every mutation is written through before
// the mutating call returns. Storage failures are logged and never surface to
// callers; memory stays authoritative.
type SessionStore struct {
	durable *DurableStore
	log     logrus.FieldLogger
	metrics *Metrics
	now     func() time.Time
	newID   func() string

	mu       sync.RWMutex
	chats    []*Chat
	index    map[string]*Chat
	active   string
	darkMode bool
	issued   *strset.Set
	version  uint64

	// persistMu orders writes to durable; savedVersion drops snapshots older
	// than the one already written.
	persistMu    sync.Mutex
	savedVersion uint64

	listeners registry[func()]
}

// NewSessionStore creates an empty store backed by durable. Call Restore to
// load persisted chats.
func NewSessionStore(durable *DurableStore, opts ...SessionOption) *SessionStore {
	s := &SessionStore{
		durable: durable,
		log:     logrus.StandardLogger(),
		now:     time.Now,
		newID:   newID,
		index:   make(map[string]*Chat),
		issued:  strset.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "sessions")
	if s.durable == nil {
		s.durable = NewDurableStore(NewMemoryBackend(), s.log, s.metrics)
	}
	return s
}

// Subscribe registers fn to be called after every state change. The returned
// function removes it.
func (s *SessionStore) Subscribe(fn func()) (unsubscribe func()) {
	return s.listeners.add(fn)
}

func (s *SessionStore) notify() {
	for _, fn := range s.listeners.snapshot() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.WithField("panic", r).Error("State listener panicked")
				}
			}()
			fn()
		}()
	}
}

// Restore replaces the in-memory state with what the durable store holds.
// The active selection is reset to none.
func (s *SessionStore) Restore(ctx context.Context) {
	loaded := s.durable.Load(ctx)
	dark := s.durable.LoadDarkMode(ctx)

	s.mu.Lock()
	s.chats = make([]*Chat, 0, len(loaded))
	s.index = make(map[string]*Chat, len(loaded))
	for i := range loaded {
		c := loaded[i]
		s.chats = append(s.chats, &c)
		s.index[c.ID] = &c
		s.issued.Add(c.ID)
		for _, m := range c.Messages {
			s.issued.Add(m.ID)
		}
	}
	s.active = ""
	s.darkMode = dark
	s.version++
	s.mu.Unlock()

	s.persistMu.Lock()
	if s.savedVersion < s.version {
		s.savedVersion = s.version
	}
	s.persistMu.Unlock()

	s.log.WithField("chats", len(loaded)).Debug("Restored sessions")
	s.notify()
}

// nextID returns an id never issued by this store. Callers hold s.mu.
func (s *SessionStore) nextID() string {
	for {
		id := s.newID()
		if id != "" && !s.issued.Has(id) {
			s.issued.Add(id)
			return id
		}
	}
}

// commit snapshots the chat list after a mutation. Callers hold s.mu.
func (s *SessionStore) commit() (uint64, []Chat) {
	s.version++
	return s.version, cloneChats(s.chats)
}

func (s *SessionStore) persist(ctx context.Context, version uint64, snapshot []Chat) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if version <= s.savedVersion {
		return
	}
	if err := s.durable.Save(ctx, snapshot); err != nil {
		s.log.WithError(err).Warn("Failed to persist sessions")
		return
	}
	s.savedVersion = version
}

// ── Mutations ───────────────────────────────────────────

// CreateChat inserts a new empty chat at the head of the list, selects it and
// returns its id.
func (s *SessionStore) CreateChat(ctx context.Context) string {
	s.mu.Lock()
	now := s.now()
	c := &Chat{
		ID:           s.nextID(),
		Title:        DefaultTitle,
		Messages:     []Message{},
		CreatedAt:    now,
		LastActivity: now,
	}
	s.chats = append([]*Chat{c}, s.chats...)
	s.index[c.ID] = c
	s.active = c.ID
	version, snap := s.commit()
	s.mu.Unlock()

	s.persist(ctx, version, snap)
	s.notify()
	return c.ID
}

// AppendMessage appends a message built from draft to the chat and returns the
// assigned message id. The first message ever appended sets the chat title.
func (s *SessionStore) AppendMessage(ctx context.Context, chatID string, draft Draft) (string, error) {
	typ := draft.Type
	if typ == "" {
		typ = TypeMessage
	}
	if !typ.Valid() {
		return "", fmt.Errorf("unknown message type %q", typ)
	}

	s.mu.Lock()
	c, ok := s.index[chatID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	msg := Message{
		ID:        s.nextID(),
		Text:      draft.Text,
		IsUser:    draft.IsUser,
		Timestamp: s.now(),
		Type:      typ,
	}
	if draft.File != nil {
		f := *draft.File
		msg.File = &f
	}
	if len(c.Messages) == 0 {
		if title := titleFrom(draft.Text); title != "" {
			c.Title = title
		}
	}
	c.Messages = append(c.Messages, msg)
	c.LastActivity = msg.Timestamp
	version, snap := s.commit()
	s.mu.Unlock()

	s.metrics.messageAdded(msg.IsUser)
	s.persist(ctx, version, snap)
	s.notify()
	return msg.ID, nil
}

// titleFrom returns the first TitleMaxRunes runes of the trimmed text.
func titleFrom(text string) string {
	text = strings.TrimSpace(text)
	r := []rune(text)
	if len(r) > TitleMaxRunes {
		r = r[:TitleMaxRunes]
	}
	return strings.TrimSpace(string(r))
}

// TogglePin flips the pinned flag of the chat.
func (s *SessionStore) TogglePin(ctx context.Context, chatID string) error {
	s.mu.Lock()
	c, ok := s.index[chatID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	c.IsPinned = !c.IsPinned
	version, snap := s.commit()
	s.mu.Unlock()

	s.persist(ctx, version, snap)
	s.notify()
	return nil
}

// ClearAll removes every chat, clears the selection and erases the persisted
// list. Issued ids stay reserved.
func (s *SessionStore) ClearAll(ctx context.Context) {
	s.mu.Lock()
	s.chats = nil
	s.index = make(map[string]*Chat)
	s.active = ""
	s.version++
	version := s.version
	s.mu.Unlock()

	s.persistMu.Lock()
	if version > s.savedVersion {
		if err := s.durable.Clear(ctx); err != nil {
			s.log.WithError(err).Warn("Failed to erase persisted sessions")
		} else {
			s.savedVersion = version
		}
	}
	s.persistMu.Unlock()

	s.notify()
}

// SetActive selects the chat. Unknown ids leave the selection unchanged; the
// result reports whether chatID exists.
func (s *SessionStore) SetActive(chatID string) bool {
	s.mu.Lock()
	if _, ok := s.index[chatID]; !ok {
		s.mu.Unlock()
		return false
	}
	changed := s.active != chatID
	s.active = chatID
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return true
}

// ToggleDarkMode flips and persists the display preference, returning the new value.
func (s *SessionStore) ToggleDarkMode(ctx context.Context) bool {
	s.mu.Lock()
	s.darkMode = !s.darkMode
	dark := s.darkMode
	s.mu.Unlock()

	// Saves are serialized; each writes the value current at save time so the
	// last save always matches memory.
	s.persistMu.Lock()
	s.mu.Lock()
	current := s.darkMode
	s.mu.Unlock()
	if err := s.durable.SaveDarkMode(ctx, current); err != nil {
		s.log.WithError(err).Warn("Failed to persist display preference")
	}
	s.persistMu.Unlock()

	s.notify()
	return dark
}

// ── Reads ───────────────────────────────────────────────

// List returns a snapshot of all chats, most recently created first.
func (s *SessionStore) List() []Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneChats(s.chats)
}

// Search returns the chats whose title or message text contains query,
// ignoring case. An empty query returns List().
func (s *SessionStore) Search(query string) []Chat {
	return Filter(s.List(), query)
}

// Get returns a snapshot of one chat.
func (s *SessionStore) Get(chatID string) (Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.index[chatID]
	if !ok {
		return Chat{}, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	return c.clone(), nil
}

// ActiveID returns the selected chat id, or "" when none is selected.
func (s *SessionStore) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Active returns a snapshot of the selected chat.
func (s *SessionStore) Active() (Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.index[s.active]
	if !ok {
		return Chat{}, false
	}
	return c.clone(), true
}

// DarkMode returns the display preference.
func (s *SessionStore) DarkMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.darkMode
}
