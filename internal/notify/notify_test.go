package notify

import (
	"context"
	"errors"
	"net/smtp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"theological-agent/internal/logging"
)

func TestDispatcherDeliversInBackground(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	release := make(chan struct{})
	n := NotifierFunc(func(ctx context.Context, ev Event) error {
		<-release
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.RunID)
		return nil
	})
	d := NewDispatcher(n, 4, time.Second, logging.Discard())

	start := time.Now()
	d.Dispatch(Event{RunID: "a"})
	d.Dispatch(Event{RunID: "b"})
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	close(release)
	d.Close()
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestDispatcherSurvivesNotifierErrors(t *testing.T) {
	calls := 0
	n := NotifierFunc(func(context.Context, Event) error {
		calls++
		if calls == 1 {
			return ErrNotConfigured
		}
		return errors.New("smtp down")
	})
	d := NewDispatcher(n, 4, time.Second, logging.Discard())
	d.Dispatch(Event{RunID: "a"})
	d.Dispatch(Event{RunID: "b"})
	d.Close()
	assert.Equal(t, 2, calls)
}

func TestDispatchAfterCloseIsDropped(t *testing.T) {
	var calls atomic.Int64
	n := NotifierFunc(func(context.Context, Event) error {
		calls.Add(1)
		return nil
	})
	d := NewDispatcher(n, 4, time.Second, logging.Discard())
	d.Dispatch(Event{RunID: "before"})
	d.Close()

	assert.NotPanics(t, func() { d.Dispatch(Event{RunID: "after"}) })
	d.Close()
	assert.Equal(t, int64(1), calls.Load())
}

func TestSMTPNotifierSkipsWhenNotConfigured(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "smtp.example.com", Port: 587})
	assert.False(t, n.Configured())
	assert.ErrorIs(t, n.Notify(context.Background(), Event{RunID: "r"}), ErrNotConfigured)
}

func TestSMTPNotifierBuildsMessage(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "smtp.example.com", Port: 587, User: "bot@example.com", Password: "pw", To: "reviewer@example.com"})

	var (
		addr string
		to   []string
		body string
	)
	n.send = func(a string, _ smtp.Auth, from string, rcpt []string, msg []byte) error {
		addr, to, body = a, rcpt, string(msg)
		assert.Equal(t, "bot@example.com", from)
		return nil
	}

	err := n.Notify(context.Background(), Event{
		RunID:     "run-1",
		Reference: "Sl 23:1-3",
		RiskLevel: "high",
		Alerts:    []string{"<script>alert(1)</script>"},
		ReviewURL: "http://localhost:8080/hitl/run-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", addr)
	assert.Equal(t, []string{"reviewer@example.com"}, to)
	assert.Contains(t, body, "Subject: HITL Review Required - Sl 23:1-3 [HIGH]")
	assert.Contains(t, body, "http://localhost:8080/hitl/run-1")
	assert.NotContains(t, body, "<script>")
}
