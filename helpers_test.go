package rxcouch_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	rxcouch "github.com/tangledfruit/rx-couch"
	"github.com/tangledfruit/rx-couch/internal/fakecouch"
	"github.com/tangledfruit/rx-couch/pkg/connection"
)

const waitTimeout = 5 * time.Second

func newFixture(t *testing.T, opts ...rxcouch.Option) (*fakecouch.Server, *rxcouch.Server) {
	t.Helper()
	fake := fakecouch.NewServer()
	fake.Start()
	t.Cleanup(fake.Stop)

	srv, err := rxcouch.NewServer(fake.URL(), opts...)
	require.NoError(t, err)
	return fake, srv
}

func newDatabase(t *testing.T, name string, opts ...rxcouch.Option) (*fakecouch.Server, *rxcouch.Database) {
	t.Helper()
	fake, srv := newFixture(t, opts...)
	fake.CreateDatabase(name)
	db, err := srv.DB(name)
	require.NoError(t, err)
	return fake, db
}

func next[T any](t *testing.T, s *rxcouch.Stream[T]) T {
	t.Helper()
	select {
	case v, ok := <-s.C():
		require.True(t, ok, "stream ended early: %v", s.Err())
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a value")
	}
	var zero T
	return zero
}

func expectQuiet[T any](t *testing.T, s *rxcouch.Stream[T], d time.Duration) {
	t.Helper()
	select {
	case v, ok := <-s.C():
		if ok {
			t.Fatalf("unexpected value %v", v)
		}
		t.Fatalf("stream ended: %v", s.Err())
	case <-time.After(d):
	}
}

func waitEnd[T any](t *testing.T, s *rxcouch.Stream[T]) error {
	t.Helper()
	select {
	case <-s.Done():
		return s.Err()
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for the stream to end")
	}
	return nil
}

// scriptedTransport answers requests from a function instead of the network
// and records what was asked.
type scriptedTransport struct {
	mu       sync.Mutex
	requests []connection.Request
	answer   func(req *connection.Request) (any, error)
}

func (s *scriptedTransport) Do(_ context.Context, req *connection.Request, out any) error {
	s.mu.Lock()
	s.requests = append(s.requests, *req)
	s.mu.Unlock()

	if s.answer == nil {
		return nil
	}
	resp, err := s.answer(req)
	if err != nil {
		return err
	}
	if out == nil || resp == nil {
		return nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *scriptedTransport) Requests() []connection.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]connection.Request(nil), s.requests...)
}

func newScripted(t *testing.T, answer func(req *connection.Request) (any, error)) (*scriptedTransport, *rxcouch.Server) {
	t.Helper()
	tr := &scriptedTransport{answer: answer}
	srv, err := rxcouch.NewServer("http://couch.test:5984", rxcouch.WithTransport(tr))
	require.NoError(t, err)
	return tr, srv
}
