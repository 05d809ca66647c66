package entities

import "errors"

var (
	// ErrNoMedia is returned when a post has nothing that could be delivered.
	ErrNoMedia = errors.New("no media found")

	// ErrNotModified is returned by the messenger when an edit would not change the message.
	ErrNotModified = errors.New("message is not modified")

	// ErrTimeout is returned when an external tool exceeded its deadline.
	ErrTimeout = errors.New("timed out")

	// ErrTooLarge is returned when a file exceeds what the primary transport accepts.
	ErrTooLarge = errors.New("file is too large")

	// ErrNotDelivered is returned when media was acquired but no message reached the chat.
	ErrNotDelivered = errors.New("nothing was delivered")

	// ErrUploaderDisabled is returned when a large file has to be sent but no upload channel is configured.
	ErrUploaderDisabled = errors.New("upload channel is not configured")
)
