package store

import (
	"encoding/json"
	"log"
)

// Record keys. Values are JSON strings except for theme, which is stored raw.
const (
	keyUsers       = "oi_chat_users"
	keyCurrentUser = "oi_chat_currentUser"
	keyTheme       = "theme"
)

const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

func historyKey(username string) string { return "chatHistory_" + username }
func ttsKey(username string) string     { return "ttsEnabled_" + username }

// Credentials returns the username -> password table. The passwords are
// plaintext; this record backs a mock login, not a security mechanism.
func (s *Store) Credentials() map[string]string {
	users := map[string]string{}
	raw, ok := s.Get(keyUsers)
	if !ok {
		return users
	}
	if err := json.Unmarshal([]byte(raw), &users); err != nil {
		log.Printf("store: credentials record corrupt: %v", err)
		return map[string]string{}
	}
	return users
}

// SetCredentials replaces the credentials table.
func (s *Store) SetCredentials(users map[string]string) {
	raw, err := json.Marshal(users)
	if err != nil {
		log.Printf("store: marshal credentials: %v", err)
		return
	}
	s.Set(keyUsers, string(raw))
}

// CurrentUser returns the persisted active username, if any.
func (s *Store) CurrentUser() (string, bool) {
	raw, ok := s.Get(keyCurrentUser)
	if !ok {
		return "", false
	}
	var rec struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Username == "" {
		return "", false
	}
	return rec.Username, true
}

// SetCurrentUser persists the active username.
func (s *Store) SetCurrentUser(username string) {
	raw, _ := json.Marshal(struct {
		Username string `json:"username"`
	}{username})
	s.Set(keyCurrentUser, string(raw))
}

// ClearCurrentUser removes the active-user record.
func (s *Store) ClearCurrentUser() { s.Remove(keyCurrentUser) }

// HistoryJSON returns the raw persisted conversation log for username.
func (s *Store) HistoryJSON(username string) (string, bool) {
	return s.Get(historyKey(username))
}

// SetHistoryJSON persists the conversation log for username.
func (s *Store) SetHistoryJSON(username, raw string) {
	s.Set(historyKey(username), raw)
}

// RemoveHistory erases the persisted conversation log for username.
func (s *Store) RemoveHistory(username string) {
	s.Remove(historyKey(username))
}

// TTSEnabled returns the per-user speech-output preference. Defaults to
// false on first run.
func (s *Store) TTSEnabled(username string) bool {
	raw, ok := s.Get(ttsKey(username))
	if !ok {
		return false
	}
	var enabled bool
	if err := json.Unmarshal([]byte(raw), &enabled); err != nil {
		return false
	}
	return enabled
}

// SetTTSEnabled persists the per-user speech-output preference.
func (s *Store) SetTTSEnabled(username string, enabled bool) {
	raw, _ := json.Marshal(enabled)
	s.Set(ttsKey(username), string(raw))
}

// Theme returns the persisted theme, defaulting to dark.
func (s *Store) Theme() string {
	t, ok := s.Get(keyTheme)
	if !ok || (t != ThemeLight && t != ThemeDark) {
		return ThemeDark
	}
	return t
}

// SetTheme persists the theme. Unknown values are ignored.
func (s *Store) SetTheme(theme string) {
	if theme != ThemeLight && theme != ThemeDark {
		log.Printf("store: ignoring unknown theme %q", theme)
		return
	}
	s.Set(keyTheme, theme)
}
