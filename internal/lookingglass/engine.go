package lookingglass

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// SessionHeader carries the looking glass session on proxied requests.
const SessionHeader = "X-Looking-Glass-Session"

// MaxEvents bounds a session's history. Older events are dropped first.
const MaxEvents = 500

// MaxSessions bounds the live sessions. Creating one more evicts the least recently active.
const MaxSessions = 1000

// Engine keeps the looking glass sessions in memory.
type Engine struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int
	// tick orders session activity for eviction.
	tick    atomic.Uint64
	decoder *Decoder
	logger  hclog.Logger
}

func NewEngine(logger hclog.Logger) *Engine {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Engine{
		sessions:    make(map[string]*Session),
		maxSessions: MaxSessions,
		decoder:     NewDecoder(),
		logger:      logger.Named("lookingglass"),
	}
}

// Session records what one playground walkthrough sent and received.
type Session struct {
	ID        string    `json:"id"`
	Variant   string    `json:"variant"`
	CreatedAt time.Time `json:"created_at"`

	mu      sync.Mutex
	events  []Event
	dropped int
	subs    map[chan Event]struct{}
	closed  bool
	active  atomic.Uint64
}

// Event is one captured step, request, response or token.
type Event struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	Timestamp   time.Time              `json:"timestamp"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Annotations []Annotation           `json:"annotations,omitempty"`
}

type EventType string

const (
	EventTypeFlowStep         EventType = "flow.step"
	EventTypeTokenIssued      EventType = "token.issued"
	EventTypeRequestSent      EventType = "request.sent"
	EventTypeResponseReceived EventType = "response.received"
	EventTypeHTTPExchange     EventType = "http.exchange"
	EventTypeSecurityWarning  EventType = "security.warning"
)

// Annotation explains an event.
type Annotation struct {
	Type        AnnotationType `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    string         `json:"severity,omitempty"`  // info, warning, error
	Reference   string         `json:"reference,omitempty"` // RFC section
}

type AnnotationType string

const (
	AnnotationTypeSecurityHint  AnnotationType = "security_hint"
	AnnotationTypeBestPractice  AnnotationType = "best_practice"
	AnnotationTypeVulnerability AnnotationType = "vulnerability"
	AnnotationTypeExplanation   AnnotationType = "explanation"
)

// CreateSession starts an empty session for the given wizard variant.
func (e *Engine) CreateSession(variant string) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Variant:   variant,
		CreatedAt: time.Now(),
		subs:      make(map[chan Event]struct{}),
	}
	s.active.Store(e.tick.Add(1))

	e.mu.Lock()
	var evicted *Session
	if e.maxSessions > 0 && len(e.sessions) >= e.maxSessions {
		for _, candidate := range e.sessions {
			if evicted == nil || candidate.active.Load() < evicted.active.Load() {
				evicted = candidate
			}
		}
		delete(e.sessions, evicted.ID)
	}
	e.sessions[s.ID] = s
	e.mu.Unlock()

	if evicted != nil {
		evicted.close()
		e.logger.Debug("session evicted", "session", evicted.ID)
	}
	e.logger.Debug("session created", "session", s.ID, "variant", variant)
	return s
}

func (e *Engine) GetSession(id string) (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	return s, ok
}

// DeleteSession removes a session and disconnects its subscribers.
func (e *Engine) DeleteSession(id string) {
	e.mu.Lock()
	s, ok := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()
	if ok {
		s.close()
	}
}

// AddEvent appends an event to a session. Unknown sessions are ignored.
func (e *Engine) AddEvent(sessionID string, event Event) {
	if sessionID == "" {
		return
	}
	s, ok := e.GetSession(sessionID)
	if !ok {
		return
	}
	s.active.Store(e.tick.Add(1))
	event.ID = uuid.NewString()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	s.append(event)
}

// SessionFromRequest returns the looking glass session a request is bound to, if any.
func SessionFromRequest(r *http.Request) string {
	if id := r.Header.Get(SessionHeader); id != "" {
		return id
	}
	return r.URL.Query().Get("lg_session")
}

// Snapshot returns a copy of the retained events.
func (s *Session) Snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Dropped reports how many events fell out of the history.
func (s *Session) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Subscribe returns the history so far and a channel of the events that follow it.
// A subscriber that falls more than buffer events behind misses events. cancel must be
// called once the subscriber is done; the channel is closed when the session is deleted.
func (s *Session) Subscribe(buffer int) ([]Event, <-chan Event, func()) {
	ch := make(chan Event, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	history := append([]Event(nil), s.events...)
	if s.closed {
		close(ch)
		return history, ch, func() {}
	}
	s.subs[ch] = struct{}{}

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
	return history, ch, cancel
}

func (s *Session) append(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events = append(s.events, event)
	if over := len(s.events) - MaxEvents; over > 0 {
		s.events = append(s.events[:0:0], s.events[over:]...)
		s.dropped += over
	}
	for ch := range s.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for ch := range s.subs {
		close(ch)
	}
	s.subs = map[chan Event]struct{}{}
}
