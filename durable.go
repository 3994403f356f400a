package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Storage keys. The session document and the display preference are stored
// independently so either can be rewritten without touching the other.
const (
	SessionsKey = "chatsync.sessions"
	DarkModeKey = "chatsync.dark-mode"
)

const documentVersion = 1

type sessionDocument struct {
	Version int    `json:"version"`
	Chats   []Chat `json:"chats"`
}

// ============================================================================
// DurableStore
// ============================================================================

// DurableStore serializes the chat list to a Backend. It has no business logic;
// the SessionStore is its only writer.
type DurableStore struct {
	backend Backend
	log     logrus.FieldLogger
	metrics *Metrics
}

// NewDurableStore wraps backend. log and metrics may be nil.
func NewDurableStore(backend Backend, log logrus.FieldLogger, metrics *Metrics) *DurableStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DurableStore{
		backend: backend,
		log:     log.WithField("component", "durable"),
		metrics: metrics,
	}
}

// Load returns the persisted chat list. It never fails: an absent, undecodable
// or structurally invalid document yields an empty list.
func (d *DurableStore) Load(ctx context.Context) []Chat {
	data, err := d.backend.Get(ctx, SessionsKey)
	if errors.Is(err, ErrKeyNotFound) {
		return []Chat{}
	}
	if err != nil {
		d.metrics.storageFailed("load")
		d.log.WithError(err).Warn("Failed to read sessions, starting empty")
		return []Chat{}
	}

	var doc sessionDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		d.metrics.storageFailed("load")
		d.log.WithError(err).Warn("Stored sessions are not valid JSON, starting empty")
		return []Chat{}
	}
	if err := validateDocument(&doc); err != nil {
		d.metrics.storageFailed("load")
		d.log.WithError(err).Warn("Stored sessions are invalid, starting empty")
		return []Chat{}
	}
	return doc.Chats
}

func validateDocument(doc *sessionDocument) error {
	if doc.Version != documentVersion {
		return fmt.Errorf("unsupported document version %d", doc.Version)
	}
	if doc.Chats == nil {
		doc.Chats = []Chat{}
	}
	seen := make(map[string]struct{})
	for i := range doc.Chats {
		c := &doc.Chats[i]
		if c.ID == "" {
			return fmt.Errorf("chat %d has no id", i)
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("duplicate chat id %s", c.ID)
		}
		seen[c.ID] = struct{}{}
		if c.Messages == nil {
			c.Messages = []Message{}
		}
		for j, m := range c.Messages {
			if m.ID == "" {
				return fmt.Errorf("message %d of chat %s has no id", j, c.ID)
			}
			if !m.Type.Valid() {
				return fmt.Errorf("message %s has unknown type %q", m.ID, m.Type)
			}
		}
	}
	return nil
}

// Save replaces the persisted chat list. Failures wrap ErrStorageFailure.
func (d *DurableStore) Save(ctx context.Context, chats []Chat) error {
	if chats == nil {
		chats = []Chat{}
	}
	data, err := json.Marshal(sessionDocument{Version: documentVersion, Chats: chats})
	if err != nil {
		d.metrics.storageFailed("save")
		return fmt.Errorf("%w: encoding sessions: %v", ErrStorageFailure, err)
	}
	if err := d.backend.Set(ctx, SessionsKey, data); err != nil {
		d.metrics.storageFailed("save")
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return nil
}

// Clear erases the persisted chat list. The display preference is kept.
func (d *DurableStore) Clear(ctx context.Context) error {
	if err := d.backend.Delete(ctx, SessionsKey); err != nil {
		d.metrics.storageFailed("clear")
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return nil
}

// LoadDarkMode returns the stored display preference, false if absent or unreadable.
func (d *DurableStore) LoadDarkMode(ctx context.Context) bool {
	data, err := d.backend.Get(ctx, DarkModeKey)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			d.metrics.storageFailed("load")
			d.log.WithError(err).Warn("Failed to read display preference")
		}
		return false
	}
	v, err := strconv.ParseBool(string(data))
	if err != nil {
		d.log.WithField("value", string(data)).Warn("Ignoring unreadable display preference")
		return false
	}
	return v
}

// SaveDarkMode persists the display preference.
func (d *DurableStore) SaveDarkMode(ctx context.Context, dark bool) error {
	if err := d.backend.Set(ctx, DarkModeKey, []byte(strconv.FormatBool(dark))); err != nil {
		d.metrics.storageFailed("save")
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return nil
}

// Close releases the backend.
func (d *DurableStore) Close() error {
	return d.backend.Close()
}
