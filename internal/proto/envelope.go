package proto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vovakirdan/ltchat/internal/core"
)

// QueueRecord is the ingest queue payload. It is never shown to clients.
type QueueRecord struct {
	Content     string    `json:"content"`
	UserID      int64     `json:"user_id"`
	Username    string    `json:"username"`
	ChannelID   int64     `json:"channel_id"`
	ClientNonce string    `json:"client_nonce"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// MarshalEnvelope encodes env as a QueueRecord.
func MarshalEnvelope(env *core.Envelope) ([]byte, error) {
	return json.Marshal(QueueRecord{
		Content:     env.Body,
		UserID:      env.AuthorID,
		Username:    env.Username,
		ChannelID:   env.ChannelID,
		ClientNonce: env.Nonce,
		Status:      string(env.Status),
		SubmittedAt: env.SubmittedAt,
	})
}

// UnmarshalEnvelope decodes a QueueRecord.
func UnmarshalEnvelope(data []byte) (*core.Envelope, error) {
	var rec QueueRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode queue record: %w", err)
	}
	if rec.ClientNonce == "" || rec.ChannelID == 0 {
		return nil, fmt.Errorf("decode queue record: missing channel or nonce")
	}
	status := core.Status(rec.Status)
	if status == "" {
		status = core.StatusSent
	}
	return &core.Envelope{
		ChannelID:   rec.ChannelID,
		AuthorID:    rec.UserID,
		Username:    rec.Username,
		Body:        rec.Content,
		Nonce:       rec.ClientNonce,
		SubmittedAt: rec.SubmittedAt,
		Status:      status,
	}, nil
}
