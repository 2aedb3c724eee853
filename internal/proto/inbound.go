package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/vovakirdan/ltchat/internal/core"
)

const (
	InboundTypeMessage   = "message"
	InboundTypeRead      = "read"
	InboundTypeHeartbeat = "heartbeat"
)

// Inbound is a frame sent by a client over its channel connection.
type Inbound struct {
	Type      string          `json:"type"`
	Content   string          `json:"content,omitempty"`
	MessageID json.RawMessage `json:"message_id,omitempty"`
}

// ParseInbound decodes a client frame. Every failure wraps core.ErrMalformedFrame.
func ParseInbound(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedFrame, err)
	}
	if in.Type == "" {
		return nil, fmt.Errorf("%w: missing type", core.ErrMalformedFrame)
	}
	return &in, nil
}

// ReadMessageID returns message_id as an integer. Both 12 and "12" are accepted.
func (in *Inbound) ReadMessageID() (int64, error) {
	raw := bytes.TrimSpace(in.MessageID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%w: missing message_id", core.ErrMalformedFrame)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: %v", core.ErrMalformedFrame, err)
		}
		raw = []byte(s)
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid message_id %q", core.ErrMalformedFrame, raw)
	}
	return id, nil
}
