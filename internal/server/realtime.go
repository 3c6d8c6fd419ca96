package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/highlighter/internal/session"
)

const (
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "highlighter-backend"
)

// RealtimeMessage is one event delivered to the streams of a user.
type RealtimeMessage struct {
	UserID       string
	SessionID    string
	PageKey      string
	EventType    string
	HighlightIDs []string
	Notices      []session.Notice
	Timestamp    time.Time
}

// RealtimeDispatcher fans session events out to the event streams of their
// owner.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID string) (<-chan RealtimeMessage, func()) {
	if userID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(userID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers message without blocking; full streams drop it.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.UserID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// SessionPublisher adapts the dispatcher to session events.
func (d *RealtimeDispatcher) SessionPublisher() session.EventPublisher {
	return sessionEventBridge{dispatcher: d}
}

type sessionEventBridge struct {
	dispatcher *RealtimeDispatcher
}

func (b sessionEventBridge) Publish(event session.Event) {
	b.dispatcher.Publish(RealtimeMessage{
		UserID:       event.UserID,
		SessionID:    event.SessionID,
		PageKey:      event.PageKey,
		EventType:    event.Type,
		HighlightIDs: event.HighlightIDs,
		Notices:      event.Notices,
		Timestamp:    event.Timestamp,
	})
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(userID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
