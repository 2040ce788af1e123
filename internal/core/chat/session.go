package chat

import "time"

// Session identifies the signed-in user. It is produced by the account
// collaborator and treated as already validated.
type Session struct {
	UserID    string    `json:"uid"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// Room is a named container of channels.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Channel is a named message stream inside a room.
type Channel struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Scope returns the scope addressing this channel.
func (c Channel) Scope() Scope {
	return NewScope(c.Room, c.ID)
}
