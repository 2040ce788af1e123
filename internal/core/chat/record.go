package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the wire value stored at messages/{room}/{channel}/{id}.
// Pointer fields distinguish a missing field from its zero value.
type Record struct {
	UID       string                     `json:"uid"`
	Username  string                     `json:"username"`
	Text      *string                    `json:"text"`
	TS        *int64                     `json:"ts"`
	EditedAt  *int64                     `json:"editedAt,omitempty"`
	ParentID  string                     `json:"parentId,omitempty"`
	Reactions map[string]map[string]bool `json:"reactions,omitempty"`
}

// NewRecord builds the record written when a message is sent.
func NewRecord(sess Session, text string, ts time.Time, parentID string) Record {
	ms := ts.UnixMilli()
	return Record{
		UID:      sess.UserID,
		Username: sess.Username,
		Text:     &text,
		TS:       &ms,
		ParentID: parentID,
	}
}

// DecodeRecord parses a raw feed value. Errors wrap ErrMalformedRecord.
func DecodeRecord(raw []byte) (Record, error) {
	var rec Record
	if len(raw) == 0 || string(raw) == "null" {
		return rec, fmt.Errorf("%w: empty value", ErrMalformedRecord)
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return rec, rec.Validate()
}

// Validate checks the fields every message record must carry.
func (r Record) Validate() error {
	switch {
	case r.TS == nil:
		return fmt.Errorf("%w: missing ts", ErrMalformedRecord)
	case r.Text == nil:
		return fmt.Errorf("%w: missing text", ErrMalformedRecord)
	case r.EditedAt != nil && *r.EditedAt < *r.TS:
		return fmt.Errorf("%w: editedAt %d before ts %d", ErrMalformedRecord, *r.EditedAt, *r.TS)
	}
	return nil
}

// Message converts a validated record into a view message.
func (r Record) Message(id string, scope Scope) Message {
	msg := Message{
		ID:         id,
		Scope:      scope,
		AuthorID:   r.UID,
		AuthorName: r.Username,
		ParentID:   r.ParentID,
	}
	if r.Text != nil {
		msg.Text = *r.Text
	}
	if r.TS != nil {
		msg.CreatedAt = time.UnixMilli(*r.TS)
	}
	if r.EditedAt != nil {
		msg.EditedAt = time.UnixMilli(*r.EditedAt)
	}
	return msg
}

// EditFields returns the partial update written by an edit. The edit
// timestamp never precedes the creation time.
func EditFields(msg Message, text string, now time.Time) map[string]any {
	if now.Before(msg.CreatedAt) {
		now = msg.CreatedAt
	}
	return map[string]any{
		"text":     text,
		"editedAt": now.UnixMilli(),
	}
}

// DirectoryRecord is the value stored for rooms and channels.
type DirectoryRecord struct {
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
}
