// Package realtimetest provides an in-memory Notifier for tests.
package realtimetest

import (
	"context"
	"sync"
)

type Emitted struct {
	UserID  string
	Event   string
	Payload any
}

// Recorder treats every user as online unless marked offline and keeps
// every event delivered to an online user.
type Recorder struct {
	mu      sync.Mutex
	offline map[string]bool
	sent    []Emitted
}

func NewRecorder() *Recorder { return &Recorder{offline: make(map[string]bool)} }

func (r *Recorder) Emit(_ context.Context, userID, event string, payload any) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline[userID] {
		return false, nil
	}
	r.sent = append(r.sent, Emitted{UserID: userID, Event: event, Payload: payload})
	return true, nil
}

func (r *Recorder) Online(_ context.Context, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.offline[userID], nil
}

func (r *Recorder) SetOffline(userID string, offline bool) {
	r.mu.Lock()
	r.offline[userID] = offline
	r.mu.Unlock()
}

// Events lists the event names delivered to userID in order.
func (r *Recorder) Events(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.sent {
		if e.UserID == userID {
			out = append(out, e.Event)
		}
	}
	return out
}

// Last returns the most recent payload of event delivered to userID.
func (r *Recorder) Last(userID, event string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].UserID == userID && r.sent[i].Event == event {
			return r.sent[i].Payload, true
		}
	}
	return nil, false
}

func (r *Recorder) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.sent {
		if e.Event == event {
			n++
		}
	}
	return n
}
