package chatsync

import (
	"encoding/json"
	"errors"

	"judgeconnect/internal/models"
	"judgeconnect/internal/realtime"
)

var errMalformedRow = errors.New("malformed row payload")

var (
	messagesTable      = models.Message{}.TableName()
	conversationsTable = models.Conversation{}.TableName()
)

// messageFromEvent narrows an event's row into a Message. In-process events
// carry the concrete model; bridged events carry raw JSON. Rows missing an
// identifier or conversation reference are rejected so a partial entry can
// never enter the ordered list.
func messageFromEvent(ev realtime.Event) (models.Message, error) {
	var m models.Message
	switch row := ev.Row.(type) {
	case models.Message:
		m = row
	case *models.Message:
		m = *row
	case json.RawMessage:
		if err := json.Unmarshal(row, &m); err != nil {
			return models.Message{}, errMalformedRow
		}
	default:
		return models.Message{}, errMalformedRow
	}
	if m.ID == 0 || m.ConversationID == 0 || m.SenderID == 0 {
		return models.Message{}, errMalformedRow
	}
	return m, nil
}

func conversationFromEvent(ev realtime.Event) (models.Conversation, error) {
	var c models.Conversation
	switch row := ev.Row.(type) {
	case models.Conversation:
		c = row
	case *models.Conversation:
		c = *row
	case json.RawMessage:
		if err := json.Unmarshal(row, &c); err != nil {
			return models.Conversation{}, errMalformedRow
		}
	default:
		return models.Conversation{}, errMalformedRow
	}
	if c.ID == 0 {
		return models.Conversation{}, errMalformedRow
	}
	return c, nil
}
