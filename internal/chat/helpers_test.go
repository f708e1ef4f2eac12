package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store for pipeline and coordinator tests. It
// clones messages on every read/write so mutations only become visible via
// UpdateMessage, like a real database.
type fakeStore struct {
	mu       sync.Mutex
	chats    map[int64]*Chat
	messages map[int64]*Message
	blocks   map[[2]int64]bool
	nextID   int64

	failCreate error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chats:    make(map[int64]*Chat),
		messages: make(map[int64]*Message),
		blocks:   make(map[[2]int64]bool),
	}
}

func (s *fakeStore) addChat(c *Chat) *Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[c.ID] = c
	return c
}

func (s *fakeStore) block(userID, otherID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[[2]int64{userID, otherID}] = true
}

func (s *fakeStore) ChatByID(_ context.Context, id int64) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, ErrChatNotFound
	}
	return c, nil
}

func (s *fakeStore) IsBlocked(_ context.Context, userID, otherID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks[[2]int64{userID, otherID}], nil
}

func (s *fakeStore) CreateMessage(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate != nil {
		return s.failCreate
	}
	s.nextID++
	m.ID = s.nextID
	m.CreatedAt = time.Now().UTC()
	s.messages[m.ID] = cloneMessage(m)
	return nil
}

func (s *fakeStore) MessageByID(_ context.Context, id int64) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	out := cloneMessage(m)
	out.SenderName = fmt.Sprintf("user%d", m.SenderID)
	if m.ReplyToID != 0 {
		if reply, ok := s.messages[m.ReplyToID]; ok {
			out.ReplyTo = &ReplyPreview{
				ID:         reply.ID,
				Type:       reply.Type,
				Text:       reply.Content,
				MediaName:  reply.MediaName,
				SenderName: fmt.Sprintf("user%d", reply.SenderID),
			}
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateMessage(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; !ok {
		return ErrMessageNotFound
	}
	s.messages[m.ID] = cloneMessage(m)
	return nil
}

func cloneMessage(m *Message) *Message {
	out := *m
	out.DeliveredTo = append([]int64(nil), m.DeliveredTo...)
	out.ReadBy = append([]int64(nil), m.ReadBy...)
	out.DeletedFor = append([]int64(nil), m.DeletedFor...)
	out.StarredBy = append([]int64(nil), m.StarredBy...)
	out.Reactions = append([]Reaction(nil), m.Reactions...)
	out.ReplyTo = nil
	return &out
}

// testEnv wires real registries with the in-process broadcaster so tests
// observe exactly the frames each session would receive on the wire.
type testEnv struct {
	store    *fakeStore
	presence *Presence
	hub      *Hub
	bus      Broadcaster
	pipeline *Pipeline
	calls    *CallCoordinator
	gateway  *Gateway
}

func newTestEnv() *testEnv {
	log := zerolog.Nop()
	store := newFakeStore()
	presence := NewPresence()
	hub := NewHub(presence, log)
	bus := NewLocalBroadcaster(hub)
	pipeline := NewPipeline(store, bus, log)
	calls := NewCallCoordinator(store, bus, log)
	gateway := NewGateway(hub, presence, pipeline, calls, bus, store, log)
	return &testEnv{
		store:    store,
		presence: presence,
		hub:      hub,
		bus:      bus,
		pipeline: pipeline,
		calls:    calls,
		gateway:  gateway,
	}
}

// addSession registers a connection-less session, as the gateway would on a
// successful upgrade.
func (e *testEnv) addSession(userID int64) *Session {
	s := &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		send:   make(chan []byte, 64),
		gw:     e.gateway,
	}
	e.hub.AddSession(s)
	e.presence.Register(userID, s)
	return s
}

// drain decodes every frame currently queued on the session.
func drain(t *testing.T, s *Session) []wireEvent {
	t.Helper()
	var out []wireEvent
	for {
		select {
		case frame := <-s.send:
			var ev wireEvent
			require.NoError(t, json.Unmarshal(frame, &ev))
			out = append(out, ev)
		default:
			return out
		}
	}
}

// eventsNamed filters drained frames by event name.
func eventsNamed(events []wireEvent, name string) []wireEvent {
	var out []wireEvent
	for _, ev := range events {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

func decodeData(t *testing.T, ev wireEvent, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(ev.Data, v))
}

var errStorageDown = errors.New("storage down")
