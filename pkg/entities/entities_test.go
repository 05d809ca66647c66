package entities

import "testing"

func TestParseSettingKey(t *testing.T) {
	for _, k := range SettingKeys {
		got, err := ParseSettingKey(string(k))
		if err != nil || got != k {
			t.Errorf("ParseSettingKey(%q) = %q, %v", k, got, err)
		}
	}

	if _, err := ParseSettingKey("send_everything"); err == nil {
		t.Error("expected an error for an unknown key")
	}
}

func TestSettingsGetSet(t *testing.T) {
	s := DefaultSettings()
	if !s.Get(SettingSendText) || s.Get(SettingDeleteOriginal) {
		t.Fatalf("defaults = %+v", s)
	}

	s.Set(SettingSendText, false)
	s.Set(SettingDeleteOriginal, true)
	s.Set("unknown", true)

	if s != (Settings{SendText: false, DeleteOriginal: true}) {
		t.Errorf("settings = %+v", s)
	}
	if s.Get("unknown") {
		t.Error("unknown key reported as enabled")
	}
}

func TestPostLink(t *testing.T) {
	tests := []struct {
		name string
		post Post
		want string
	}{
		{"canonical", Post{ID: "123"}, "https://x.com/i/status/123"},
		{"scraped url", Post{ID: "123", URL: "https://x.com/jack/status/123"}, "https://x.com/jack/status/123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.post.Link(); got != tt.want {
				t.Errorf("Link() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHasAuthor(t *testing.T) {
	if (&Post{AuthorName: "  "}).HasAuthor() {
		t.Error("blank author reported as present")
	}
	if !(&Post{AuthorHandle: "jack"}).HasAuthor() {
		t.Error("handle alone not reported as author")
	}
}

func TestKeyboardIsEmpty(t *testing.T) {
	var nilKB *Keyboard
	if !nilKB.IsEmpty() {
		t.Error("nil keyboard is not empty")
	}
	if !(&Keyboard{Rows: [][]Button{{}}}).IsEmpty() {
		t.Error("keyboard with an empty row is not empty")
	}
	if (&Keyboard{Rows: [][]Button{{{Text: "a", Data: "b"}}}}).IsEmpty() {
		t.Error("keyboard with a button is empty")
	}
}

func TestMessageRefIsZero(t *testing.T) {
	if !(MessageRef{UserID: 5}).IsZero() {
		t.Error("ref without chat and message is not zero")
	}
	if (MessageRef{ChatID: 1, MessageID: 2}).IsZero() {
		t.Error("ref with chat and message is zero")
	}
}
