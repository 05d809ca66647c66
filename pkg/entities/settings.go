package entities

import "fmt"

// SettingKey names a per-user boolean preference.
type SettingKey string

const (
	// SettingSendText adds a caption to delivered media and replies with the post text
	SettingSendText SettingKey = "send_text"

	// SettingDeleteOriginal deletes the message with the links once its job is done
	SettingDeleteOriginal SettingKey = "delete_original"
)

// SettingKeys lists the known keys in display order.
var SettingKeys = []SettingKey{SettingSendText, SettingDeleteOriginal}

// ParseSettingKey validates a key coming from outside (callback data).
func ParseSettingKey(s string) (SettingKey, error) {
	for _, k := range SettingKeys {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown setting %q", s)
}

type Settings struct {
	SendText       bool
	DeleteOriginal bool
}

// DefaultSettings are applied for users without a stored value.
func DefaultSettings() Settings {
	return Settings{
		SendText:       true,
		DeleteOriginal: false,
	}
}

// Get returns the value of a key.
func (s Settings) Get(key SettingKey) bool {
	switch key {
	case SettingSendText:
		return s.SendText
	case SettingDeleteOriginal:
		return s.DeleteOriginal
	default:
		return false
	}
}

// Set assigns a value to a key; unknown keys are ignored.
func (s *Settings) Set(key SettingKey, value bool) {
	switch key {
	case SettingSendText:
		s.SendText = value
	case SettingDeleteOriginal:
		s.DeleteOriginal = value
	}
}
