package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/ultrawork/internal/log"
	"github.com/zjrosen/ultrawork/internal/store"
	"github.com/zjrosen/ultrawork/internal/watcher"
)

// DefaultPollTimeout bounds a poll that never sees a matching message.
const DefaultPollTimeout = 30 * time.Second

// defaultPollTick is the fallback recheck interval while waiting on file
// system events.
const defaultPollTick = 500 * time.Millisecond

// Store persists inboxes under <team>/inboxes/<recipient>.json.
type Store struct {
	st   *store.Store
	tick time.Duration
}

// Option configures the store.
type Option func(*Store)

// WithPollTick overrides the fallback recheck interval.
func WithPollTick(d time.Duration) Option {
	return func(s *Store) { s.tick = d }
}

// NewStore creates a mailbox store over the atomic store.
func NewStore(st *store.Store, opts ...Option) *Store {
	s := &Store{st: st, tick: defaultPollTick}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateTeam(project, team string) error {
	if err := store.ValidateProject(project); err != nil {
		return err
	}
	return store.ValidateID("team", team)
}

// SendParams carries one outgoing message.
type SendParams struct {
	From    string
	To      string
	Type    Type
	Payload json.RawMessage
}

// Send appends a message to the recipient's inbox under its lock, creating
// the inbox when absent. The message gets a fresh id and timestamp.
func (s *Store) Send(ctx context.Context, project, team string, p SendParams) (*Message, error) {
	if err := validateTeam(project, team); err != nil {
		return nil, err
	}
	if !p.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown message type %q", store.ErrInvalidValue, p.Type)
	}
	if err := store.ValidateID("recipient", p.To); err != nil {
		return nil, err
	}
	if p.From == "" {
		return nil, fmt.Errorf("%w: message requires a sender", store.ErrInvalidValue)
	}

	msg := Message{
		ID:        uuid.NewString(),
		From:      p.From,
		To:        p.To,
		Type:      p.Type,
		Payload:   p.Payload,
		Timestamp: s.st.Stamp(),
	}
	path := s.st.Paths().InboxFile(project, team, p.To)
	err := store.Update(ctx, s.st, path, func(doc *Inbox, exists bool) error {
		doc.Messages = append(doc.Messages, msg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Debug(log.CatMailbox, "message sent", "project", project, "team", team,
		"from", p.From, "to", p.To, "type", p.Type)
	return &msg, nil
}

// PollParams narrows a poll.
type PollParams struct {
	// Timeout bounds the wait; zero means DefaultPollTimeout.
	Timeout time.Duration
	// Type, when set, restricts the poll to one message type. Non-matching
	// messages stay unread for other pollers.
	Type Type
}

// Poll returns the unread messages of an inbox, marking exactly those
// returned as read under the inbox lock. With none pending it waits on
// file system events (with a periodic recheck) until the timeout, then
// returns an empty slice. Concurrent pollers observe disjoint messages.
func (s *Store) Poll(ctx context.Context, project, team, inbox string, p PollParams) ([]Message, error) {
	if err := validateTeam(project, team); err != nil {
		return nil, err
	}
	if err := store.ValidateID("inbox", inbox); err != nil {
		return nil, err
	}
	if p.Type != "" && !p.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown message type %q", store.ErrInvalidValue, p.Type)
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The inbox may not exist yet; watch its directory for the file to
	// appear or change.
	dir := s.st.Paths().InboxesDir(project, team)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating inboxes directory: %w", err)
	}
	w, err := watcher.New(watcher.DefaultConfig(dir, inbox+".json"))
	if err != nil {
		return nil, err
	}
	changes, err := w.Start()
	if err != nil {
		return nil, err
	}
	defer func() { _ = w.Stop() }()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		msgs, err := s.takeUnread(ctx, project, team, inbox, p.Type)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			log.Debug(log.CatMailbox, "poll delivered", "project", project, "team", team,
				"inbox", inbox, "count", len(msgs))
			return msgs, nil
		}

		select {
		case <-ctx.Done():
			return []Message{}, nil
		case <-changes:
		case <-ticker.C:
		}
	}
}

// takeUnread collects and consumes the unread messages in one locked pass.
func (s *Store) takeUnread(ctx context.Context, project, team, inbox string, filter Type) ([]Message, error) {
	path := s.st.Paths().InboxFile(project, team, inbox)
	if !s.st.Exists(path) {
		return nil, nil
	}
	var taken []Message
	err := store.Update(ctx, s.st, path, func(doc *Inbox, exists bool) error {
		taken = taken[:0]
		for i := range doc.Messages {
			m := &doc.Messages[i]
			if m.Read {
				continue
			}
			if filter != "" && m.Type != filter {
				continue
			}
			m.Read = true
			taken = append(taken, *m)
		}
		return nil
	})
	if err != nil {
		// The poll raced inbox creation; the next pass will see it.
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}
	return taken, nil
}

// MarkRead flags the given message ids as read, reporting how many changed.
func (s *Store) MarkRead(ctx context.Context, project, team, inbox string, ids []string) (int, error) {
	if err := validateTeam(project, team); err != nil {
		return 0, err
	}
	path := s.st.Paths().InboxFile(project, team, inbox)
	marked := 0
	err := store.Update(ctx, s.st, path, func(doc *Inbox, exists bool) error {
		if !exists {
			return fmt.Errorf("%w: inbox %s in %s/%s", store.ErrNotFound, inbox, project, team)
		}
		want := make(map[string]bool, len(ids))
		for _, id := range ids {
			want[id] = true
		}
		for i := range doc.Messages {
			if want[doc.Messages[i].ID] && !doc.Messages[i].Read {
				doc.Messages[i].Read = true
				marked++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return marked, nil
}

// List dumps an inbox without consuming anything. With all false only
// unread messages are returned; a missing inbox reads as empty.
func (s *Store) List(project, team, inbox string, all bool) ([]Message, error) {
	if err := validateTeam(project, team); err != nil {
		return nil, err
	}
	path := s.st.Paths().InboxFile(project, team, inbox)
	if !s.st.Exists(path) {
		return []Message{}, nil
	}
	doc, err := store.ReadJSON[Inbox](s.st, path)
	if err != nil {
		return nil, err
	}
	if all {
		return doc.Messages, nil
	}
	unread := []Message{}
	for _, m := range doc.Messages {
		if !m.Read {
			unread = append(unread, m)
		}
	}
	return unread, nil
}
