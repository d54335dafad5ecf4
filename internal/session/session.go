// Package session implements C10: the append-only session timeline.
// Sessions are created lazily on first message; each add_message call
// appends one message file under the thread's timeline and publishes a
// MessageAdded event so the layer manager and indexer stay in sync
// without the session manager calling back into the filesystem watcher
// itself — grounded on the teacher's append-style logging and the
// event-driven handoff shape of MangleWatcher.
package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"cortex/internal/cortexerr"
	"cortex/internal/cortexuri"
	"cortex/internal/events"
	"cortex/internal/fsstore"
	"cortex/internal/logging"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in a session timeline.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager owns reading and appending session timelines.
type Manager struct {
	fs  *fsstore.Store
	bus *events.Bus
}

// New builds a session Manager. bus may be nil, in which case
// AddMessage/CloseSession simply skip publishing.
func New(fs *fsstore.Store, bus *events.Bus) *Manager {
	return &Manager{fs: fs, bus: bus}
}

// shortID derives the short, filename-safe suffix from a message UUID: the
// first 8 hex characters, matching the "<shortid>" convention named in §3
// and §6 (the full UUID is still carried in the front matter as the
// message's durable id).
func shortID(id string) string {
	s := strings.ReplaceAll(id, "-", "")
	if len(s) > 8 {
		s = s[:8]
	}
	return s
}

func messageURI(sessionID string, msg Message) cortexuri.URI {
	resource := cortexuri.ShardedResource(msg.CreatedAt, shortID(msg.ID))
	return cortexuri.SessionTimeline(sessionID, resource)
}

// renderMessage writes a message as Markdown with a small front-matter
// block, matching the reserved-sibling convention used across the rest
// of the store (plain text content, metadata as a prefix the LLM layer
// generators can still read through).
func renderMessage(m Message) []byte {
	return []byte(fmt.Sprintf("---\nid: %s\nrole: %s\ncreated_at: %s\n---\n%s\n",
		m.ID, m.Role, m.CreatedAt.Format(time.RFC3339), m.Content))
}

// AddMessage appends a message to sessionID's timeline, creating the
// session lazily if this is its first message, and publishes a
// MessageAdded event.
func (m *Manager) AddMessage(ctx context.Context, sessionID string, role Role, content string) (Message, error) {
	if sessionID == "" {
		return Message{}, cortexerr.New(cortexerr.InvalidPath, "session id must not be empty")
	}
	msg := Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	u := messageURI(sessionID, msg)
	if err := m.fs.Write(u, renderMessage(msg)); err != nil {
		return Message{}, err
	}
	logging.Get(logging.CategorySession).Info("session %s: appended message %s (%s)", sessionID, msg.ID, role)

	if m.bus != nil {
		m.bus.Publish(events.Event{
			Origin:    events.Session,
			Kind:      events.MessageAdded,
			URI:       u.String(),
			SessionID: sessionID,
			MessageID: msg.ID,
		})
	}
	return msg, nil
}

// ListMessages returns every message in sessionID's timeline, sorted by
// CreatedAt (the date-sharded YYYY-MM/DD directory layout already groups
// files roughly in time order, but a same-second collision or clock skew
// across shards could otherwise reorder them).
func (m *Manager) ListMessages(sessionID string) ([]Message, error) {
	dir := cortexuri.SessionTimeline(sessionID)
	entries, err := m.fs.ListMarkdownFilesRecursive(context.Background(), dir)
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(entries))
	for _, e := range entries {
		content, err := m.fs.Read(e.URI)
		if err != nil {
			continue
		}
		msg, perr := parseMessage(content)
		if perr != nil {
			logging.Get(logging.CategorySession).Warn("skipping unparsable message %s: %v", e.URI.String(), perr)
			continue
		}
		msg.SessionID = sessionID
		messages = append(messages, msg)
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].CreatedAt.Before(messages[j].CreatedAt) })
	return messages, nil
}

// CloseSession publishes a SessionClosed event without modifying the
// timeline; closing is purely a signal for downstream extraction to
// consume (C11 extract-session).
func (m *Manager) CloseSession(sessionID string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{
		Origin:    events.Session,
		Kind:      events.SessionClosed,
		SessionID: sessionID,
	})
}

// parseMessage reverses renderMessage's simple front-matter format.
func parseMessage(data []byte) (Message, error) {
	const fence = "---\n"
	text := string(data)
	if !strings.HasPrefix(text, fence) {
		return Message{}, cortexerr.New(cortexerr.Serialization, "message missing front matter")
	}
	rest := strings.TrimPrefix(text, fence)
	header, body, ok := strings.Cut(rest, "\n---\n")
	if !ok {
		return Message{}, cortexerr.New(cortexerr.Serialization, "message missing front matter terminator")
	}
	body = strings.TrimSuffix(body, "\n")

	msg := Message{Content: body}
	for _, line := range strings.Split(header, "\n") {
		key, val, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		switch key {
		case "id":
			msg.ID = val
		case "role":
			msg.Role = Role(val)
		case "created_at":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				msg.CreatedAt = t
			}
		}
	}
	return msg, nil
}
