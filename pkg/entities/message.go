package entities

import "time"

// User is a bot user as seen by the settings store.
type User struct {
	ID        int64
	FirstName string
	Username  string
	JoinedAt  time.Time
}

// MessageRef points at a message in a chat. UserID is the sender and is
// zero for messages sent by the bot itself.
type MessageRef struct {
	ChatID    int64
	MessageID int
	UserID    int64
}

// IsZero reports whether the reference points nowhere.
func (r MessageRef) IsZero() bool {
	return r.ChatID == 0 && r.MessageID == 0
}

// Keyboard is an inline keyboard laid out as rows of buttons.
type Keyboard struct {
	Rows [][]Button
}

// Button is either a link button (URL set) or a callback button (Data set).
type Button struct {
	Text string
	URL  string
	Data string
}

// IsEmpty reports whether the keyboard has no buttons at all.
func (k *Keyboard) IsEmpty() bool {
	if k == nil {
		return true
	}
	for _, row := range k.Rows {
		if len(row) > 0 {
			return false
		}
	}
	return true
}
