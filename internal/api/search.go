package api

import (
	"context"
	"sync"
	"time"
)

// Searcher debounces user-search queries from the creation form: each
// keystroke rearms a timer, and only the query standing when the timer fires
// reaches the server. Results for superseded queries are discarded.
type Searcher struct {
	client  *Client
	delay   time.Duration
	deliver func(query string, users []User, err error)

	mu    sync.Mutex
	query string
	gen   int
	timer *time.Timer
}

// NewSearcher creates a debounced search wrapper. deliver runs on the
// searcher's own goroutine once per settled query.
func NewSearcher(client *Client, delay time.Duration, deliver func(query string, users []User, err error)) *Searcher {
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}
	return &Searcher{client: client, delay: delay, deliver: deliver}
}

// Query records a new query string and rearms the debounce timer.
func (s *Searcher) Query(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = q
	s.gen++
	gen := s.gen
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, func() { s.run(gen) })
}

// Close cancels any pending query.
func (s *Searcher) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Searcher) run(gen int) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	q := s.query
	s.mu.Unlock()

	users, err := s.client.SearchUsers(context.Background(), q)

	// A newer query may have settled while the request was in flight.
	s.mu.Lock()
	stale := gen != s.gen
	s.mu.Unlock()
	if stale {
		return
	}
	s.deliver(q, users, err)
}
