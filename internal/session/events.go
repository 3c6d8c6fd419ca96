package session

import "time"

const (
	// EventHighlightsChanged reports a change of the records of a page.
	EventHighlightsChanged = "highlights-changed"
	// EventNotice carries transient user notices.
	EventNotice = "notice"
)

// Notice is a short user-visible message.
type Notice struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

const (
	noticeNotFound     = "not_found"
	noticeDeferred     = "deferred"
	noticeLimitReached = "limit_reached"
	noticeNoSelection  = "no_selection"
	noticeDisabled     = "disabled"
)

var noticeMessages = map[string]string{
	noticeNotFound:     "Text not found, please reselect and try again.",
	noticeDeferred:     "Highlight saved but not visually applied on this page.",
	noticeLimitReached: "Highlight limit reached for this page.",
	noticeNoSelection:  "Select text first, then choose a color from the popup!",
	noticeDisabled:     "Highlighting is disabled.",
}

func newNotice(kind string) Notice {
	return Notice{Kind: kind, Message: noticeMessages[kind]}
}

// Event is published to the owner of a session after it changed.
type Event struct {
	UserID       string
	SessionID    string
	PageKey      string
	Type         string
	HighlightIDs []string
	Notices      []Notice
	Timestamp    time.Time
}

// EventPublisher delivers session events.
type EventPublisher interface {
	Publish(event Event)
}

type discardPublisher struct{}

func (discardPublisher) Publish(Event) {}
