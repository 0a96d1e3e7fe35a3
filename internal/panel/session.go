package panel

import (
	"crypto/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Session is one opened panel. Its URL is only valid while the server that
// created it is running.
type Session struct {
	ID     string    `json:"id"`
	URL    string    `json:"url"`
	Opened time.Time `json:"opened"`
}

type sessions struct {
	mu sync.Mutex
	m  map[string]Session
}

func newSessions() *sessions { return &sessions{m: map[string]Session{}} }

func (s *sessions) open(baseURL string, now time.Time) (Session, error) {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return Session{}, err
	}
	sess := Session{ID: id.String(), URL: baseURL + "/?panel=" + id.String(), Opened: now}
	s.mu.Lock()
	s.m[sess.ID] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *sessions) get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[id]
	return sess, ok
}

func (s *sessions) dispose(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[id]; !ok {
		return false
	}
	delete(s.m, id)
	return true
}

func (s *sessions) reset() {
	s.mu.Lock()
	s.m = map[string]Session{}
	s.mu.Unlock()
}

// list returns the open sessions, oldest first.
func (s *sessions) list() []Session {
	s.mu.Lock()
	out := make([]Session, 0, len(s.m))
	for _, sess := range s.m {
		out = append(out, sess)
	}
	s.mu.Unlock()
	// ULIDs sort by creation time.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
