package toml

import "fmt"

const (
	currentCatalogSchemaVersion       = 1
	currentGrantsSchemaVersion        = 1
	currentSessionsSchemaVersion      = 1
	currentConversationsSchemaVersion = 1
)

type catalogFileSchema struct {
	Version int                 `toml:"version"`
	Items   []catalogItemSchema `toml:"items"`
}

func (s *catalogFileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentCatalogSchemaVersion
	}
}

func (s catalogFileSchema) validateVersion() error {
	return checkVersion("catalog", s.Version, currentCatalogSchemaVersion)
}

type catalogItemSchema struct {
	ID          string   `toml:"id"`
	Segment     string   `toml:"segment"`
	Name        string   `toml:"name"`
	Category    string   `toml:"category"`
	Tags        []string `toml:"tags"`
	Description string   `toml:"description"`
	Price       float64  `toml:"price"`
	Tier        string   `toml:"tier"`
	Available   bool     `toml:"available"`
}

type grantsFileSchema struct {
	Version  int           `toml:"version"`
	Requests []grantSchema `toml:"requests"`
}

func (s *grantsFileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentGrantsSchemaVersion
	}
}

func (s grantsFileSchema) validateVersion() error {
	return checkVersion("grants", s.Version, currentGrantsSchemaVersion)
}

type grantSchema struct {
	ID            string `toml:"id"`
	SessionID     string `toml:"session_id"`
	ItemID        string `toml:"item_id"`
	RequesterName string `toml:"requester_name"`
	Status        string `toml:"status"`
	RequestedAt   string `toml:"requested_at"`
	ResolvedAt    string `toml:"resolved_at"`
	ExpiresAt     string `toml:"expires_at"`
	Note          string `toml:"note"`
}

type sessionsFileSchema struct {
	Version  int             `toml:"version"`
	Sessions []sessionSchema `toml:"sessions"`
}

func (s *sessionsFileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSessionsSchemaVersion
	}
}

func (s sessionsFileSchema) validateVersion() error {
	return checkVersion("sessions", s.Version, currentSessionsSchemaVersion)
}

type sessionSchema struct {
	ID           string `toml:"id"`
	Handle       string `toml:"handle"`
	Offer        string `toml:"offer"`
	SourceRef    string `toml:"source_ref"`
	Status       string `toml:"status"`
	CreatedAt    string `toml:"created_at"`
	StartedAt    string `toml:"started_at"`
	LastActivity string `toml:"last_activity"`
}

type conversationsFileSchema struct {
	Version       int                  `toml:"version"`
	Conversations []conversationSchema `toml:"conversations"`
}

func (s *conversationsFileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentConversationsSchemaVersion
	}
}

func (s conversationsFileSchema) validateVersion() error {
	return checkVersion("conversations", s.Version, currentConversationsSchemaVersion)
}

type conversationSchema struct {
	ID          string       `toml:"id"`
	SessionID   string       `toml:"session_id"`
	RequesterID string       `toml:"requester_id"`
	CreatedAt   string       `toml:"created_at"`
	UpdatedAt   string       `toml:"updated_at"`
	Turns       []turnSchema `toml:"turns"`
}

type turnSchema struct {
	Role string `toml:"role"`
	Text string `toml:"text"`
	At   string `toml:"at"`
}

func checkVersion(name string, version, current int) error {
	if version > current {
		return fmt.Errorf("unsupported %s schema version %d (current %d)", name, version, current)
	}
	return nil
}
