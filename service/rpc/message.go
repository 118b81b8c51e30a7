package rpc

import (
	"encoding/json"
	"fmt"
)

// Method names every request and event that may cross the link.
type Method string

const (
	// requests
	MethodGetNearbyPoints Method = "getNearbyPoints"
	MethodGetPointByID    Method = "getPointById"
	MethodGetUserInfo     Method = "getUserInfo"
	MethodConfirmPoint    Method = "confirmPoint"
	MethodStopWatch       Method = "stopWatch"
	MethodCreatePoint     Method = "createPoint"
	MethodListPoints      Method = "listPoints"

	// events
	EventPointsNearby Method = "pointsNearby"
	EventWatchExpired Method = "watchExpired"
)

func (m Method) Valid() bool {
	switch m {
	case MethodGetNearbyPoints, MethodGetPointByID, MethodGetUserInfo, MethodConfirmPoint,
		MethodStopWatch, MethodCreatePoint, MethodListPoints,
		EventPointsNearby, EventWatchExpired:
		return true
	}
	return false
}

// IsEvent reports whether m is delivered one-way, without a reply.
func (m Method) IsEvent() bool {
	switch m {
	case EventPointsNearby, EventWatchExpired:
		return true
	case MethodGetNearbyPoints, MethodGetPointByID, MethodGetUserInfo, MethodConfirmPoint,
		MethodStopWatch, MethodCreatePoint, MethodListPoints:
		return false
	}
	return false
}

// Kind classifies a Message by which fields it carries.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindReply
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindReply:
		return "reply"
	case KindEvent:
		return "event"
	}
	return "invalid"
}

// Message is the single frame shape exchanged in both directions.
//
//	request: requestId + method (+ params)
//	reply:   requestId (+ data | error, code)
//	event:   method (+ params), no requestId
type Message struct {
	RequestID string         `json:"requestId,omitempty"`
	Method    Method         `json:"method,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Data      any            `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Code      int            `json:"code,omitempty"`
}

func (m *Message) Kind() Kind {
	switch {
	case m.RequestID != "" && m.Method != "":
		return KindRequest
	case m.RequestID != "":
		return KindReply
	case m.Method != "":
		return KindEvent
	}
	return KindInvalid
}

func (m *Message) String() string {
	return fmt.Sprintf("%s{id=%s method=%s}", m.Kind(), m.RequestID, m.Method)
}

func encodeMessage(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

func decodeMessage(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m.Kind() == KindInvalid {
		return nil, fmt.Errorf("frame has neither requestId nor method")
	}
	return &m, nil
}
