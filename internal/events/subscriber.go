package events

import (
	"context"
	"errors"
	"io"
	"time"

	"sterilization-gateway/internal/logging"
)

// Streamer opens the backend's server-push channel; *backend.Client satisfies it.
type Streamer interface {
	Stream(ctx context.Context, lastEventID string) (io.ReadCloser, error)
}

// Subscriber keeps a connection to /events/stream open and hands every event to
// the dispatcher. Errors never stop it; it reconnects until ctx is done.
type Subscriber struct {
	streamer   Streamer
	dispatcher *Dispatcher
	logger     *logging.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewSubscriber(streamer Streamer, dispatcher *Dispatcher, logger *logging.Logger) *Subscriber {
	return &Subscriber{
		streamer:   streamer,
		dispatcher: dispatcher,
		logger:     logger,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// SetBackoff overrides the reconnect delay bounds.
func (s *Subscriber) SetBackoff(lo, hi time.Duration) {
	s.minBackoff = lo
	s.maxBackoff = hi
}

func (s *Subscriber) Run(ctx context.Context) {
	var lastID string
	delay := s.minBackoff
	for {
		n, retry, id, err := s.consume(ctx, lastID)
		lastID = id
		if ctx.Err() != nil {
			s.logger.Infof("Event stream subscriber stopped")
			return
		}
		if n > 0 {
			delay = s.minBackoff
		}
		if retry > 0 {
			delay = retry
		}
		if err != nil && !errors.Is(err, io.EOF) {
			s.logger.Warnf("Event stream error, reconnecting in %v: %v", delay, err)
		} else {
			s.logger.Debugf("Event stream closed, reconnecting in %v", delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			s.logger.Infof("Event stream subscriber stopped")
			return
		case <-t.C:
		}
		delay *= 2
		if delay > s.maxBackoff {
			delay = s.maxBackoff
		}
	}
}

// consume reads one connection to its end. It returns how many events were
// handled, the last server-suggested retry delay and the last event id, which
// stays lastID unless the stream set or reset it.
func (s *Subscriber) consume(ctx context.Context, lastID string) (int, time.Duration, string, error) {
	body, err := s.streamer.Stream(ctx, lastID)
	if err != nil {
		return 0, 0, lastID, err
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			body.Close()
		case <-stop:
		}
	}()
	defer body.Close()

	s.logger.Infof("Event stream connected")
	r := NewReader(body)
	r.lastID = lastID
	var (
		n     int
		retry time.Duration
	)
	for {
		ev, err := r.Next()
		if err != nil {
			return n, retry, r.LastID(), err
		}
		if ev.Retry > 0 {
			retry = ev.Retry
		}
		n++
		s.dispatcher.Handle(ctx, ev.Name, []byte(ev.Data))
	}
}
