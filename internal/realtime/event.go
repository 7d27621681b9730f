package realtime

import "encoding/json"

// EventType tags the variants a subscription can yield.
type EventType string

const (
	RowInserted   EventType = "row_inserted"
	RowUpdated    EventType = "row_updated"
	PresenceSync  EventType = "presence_sync"
	PresenceJoin  EventType = "presence_join"
	PresenceLeave EventType = "presence_leave"
	Broadcast     EventType = "broadcast"
	Status        EventType = "status"
)

// Filter matches row events by table and equality on one of the key columns
// the publisher supplied with the row.
type Filter struct {
	Table  string
	Column string
	Value  string
}

func (f Filter) matches(table string, keys map[string]string) bool {
	if f.Table != table {
		return false
	}
	if f.Column == "" {
		return true
	}
	return keys[f.Column] == f.Value
}

// Event is the tagged variant delivered to subscribers. Which fields are set
// depends on Type:
//
//	RowInserted/RowUpdated: Table, Keys, Row
//	PresenceSync:           Topic, Members (authoritative full set)
//	PresenceJoin/Leave:     Topic, Member (informational only)
//	Broadcast:              Topic, Name, Payload
//	Status:                 Err, Detail
//
// Row holds the concrete model value for in-process events and a
// json.RawMessage for events that crossed the bridge; consumers narrow it at
// the boundary.
type Event struct {
	Type    EventType
	Table   string
	Keys    map[string]string
	Row     interface{}
	Topic   string
	Members []string
	Member  string
	Name    string
	Payload json.RawMessage
	Err     error
	Detail  string
}
