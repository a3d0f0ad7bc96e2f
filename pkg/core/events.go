package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Message is a normalized chat message entering the pipeline.
type Message struct {
	UserID    string    `json:"user_id"`
	MessageID string    `json:"message_id,omitempty"`
	Text      string    `json:"text"`
	Context   string    `json:"context,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Event is a message as delivered by a host runtime.
//
// Implementations are PlainTextEvent and SegmentedEvent.
type Event interface {
	// Sender returns the id of the user who sent the message.
	Sender() string

	// Content returns the message text.
	Content() string

	isEvent()
}

// PlainTextEvent carries the message as one string.
type PlainTextEvent struct {
	UserID    string
	MessageID string
	PlainText string
	Context   string
	Timestamp time.Time
}

func (e PlainTextEvent) Sender() string { return e.UserID }
func (e PlainTextEvent) Content() string { return strings.TrimSpace(e.PlainText) }
func (PlainTextEvent) isEvent() {}

// Segment is one part of a segmented message.
type Segment struct {
	Type string `json:"type,omitempty"`
	Data string `json:"data"`
}

// SegmentedEvent carries the message as ordered segments.
type SegmentedEvent struct {
	UserID    string
	MessageID string
	Segments  []Segment
	Context   string
	Timestamp time.Time
}

func (e SegmentedEvent) Sender() string { return e.UserID }

// Content joins the segment data with single spaces.
func (e SegmentedEvent) Content() string {
	parts := make([]string, 0, len(e.Segments))
	for _, seg := range e.Segments {
		parts = append(parts, seg.Data)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func (SegmentedEvent) isEvent() {}

// NormalizeEvent converts ev into a Message.
//
// A missing message id is generated from node, or from the timestamp in
// milliseconds when node is nil. A zero timestamp becomes now.
//
// Returns an error wrapping ErrInvalidInput when the sender or the text is empty.
func NormalizeEvent(ev Event, node *snowflake.Node, now time.Time) (Message, error) {
	if ev == nil {
		return Message{}, NewImpressionError("NormalizeEvent", fmt.Errorf("%w: nil event", ErrInvalidInput))
	}

	var msg Message
	switch e := ev.(type) {
	case PlainTextEvent:
		msg = Message{MessageID: e.MessageID, Context: e.Context, Timestamp: e.Timestamp}
	case *PlainTextEvent:
		msg = Message{MessageID: e.MessageID, Context: e.Context, Timestamp: e.Timestamp}
	case SegmentedEvent:
		msg = Message{MessageID: e.MessageID, Context: e.Context, Timestamp: e.Timestamp}
	case *SegmentedEvent:
		msg = Message{MessageID: e.MessageID, Context: e.Context, Timestamp: e.Timestamp}
	}
	msg.UserID = strings.TrimSpace(ev.Sender())
	msg.Text = ev.Content()

	if msg.UserID == "" {
		return Message{}, NewImpressionError("NormalizeEvent", fmt.Errorf("%w: missing user id", ErrInvalidInput))
	}
	if msg.Text == "" {
		return Message{}, NewImpressionError("NormalizeEvent", fmt.Errorf("%w: empty message", ErrInvalidInput))
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	if msg.MessageID == "" {
		if node != nil {
			msg.MessageID = node.Generate().String()
		} else {
			msg.MessageID = strconv.FormatInt(msg.Timestamp.UnixMilli(), 10)
		}
	}
	return msg, nil
}

// wireEvent is the JSON shape accepted by DecodeEvent.
type wireEvent struct {
	UserID    looseID   `json:"user_id"`
	MessageID looseID   `json:"message_id"`
	Text      string    `json:"text"`
	Segments  []Segment `json:"segments"`
	Context   string    `json:"context"`
	Timestamp time.Time `json:"timestamp"`
}

// looseID decodes ids sent either as strings or as JSON numbers, e.g. QQ numbers.
// Numbers keep their literal text.
type looseID string

func (id *looseID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = looseID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = looseID(n.String())
	return nil
}

// DecodeEvent parses one JSON object into an Event.
//
// Objects with a non-empty "segments" array become a SegmentedEvent,
// everything else a PlainTextEvent built from "text".
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, NewImpressionError("DecodeEvent", fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	if len(w.Segments) > 0 {
		return SegmentedEvent{
			UserID:    string(w.UserID),
			MessageID: string(w.MessageID),
			Segments:  w.Segments,
			Context:   w.Context,
			Timestamp: w.Timestamp,
		}, nil
	}
	return PlainTextEvent{
		UserID:    string(w.UserID),
		MessageID: string(w.MessageID),
		PlainText: w.Text,
		Context:   w.Context,
		Timestamp: w.Timestamp,
	}, nil
}
