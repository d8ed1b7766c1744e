package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/bnema/venue-concierge/internal/domain"
	"github.com/bnema/venue-concierge/internal/ports"
)

const (
	storePathKey    = "store.path"
	stateDirMode    = 0o700
	stateFileMode   = 0o600
	defaultStateDir = ".concierge/state"
	tempFilePattern = ".concierge-*.toml.tmp"

	catalogFileName       = "catalog.toml"
	grantsFileName        = "grants.toml"
	sessionsFileName      = "sessions.toml"
	conversationsFileName = "conversations.toml"
)

// Store keeps every collection in its own TOML document under one
// directory. Writers in this process are serialized per file and notified
// watchers are invoked after the write lands.
type Store struct {
	dir string

	catalogMu       *sync.RWMutex
	grantsMu        *sync.RWMutex
	sessionsMu      *sync.RWMutex
	conversationsMu *sync.RWMutex

	watchMu  sync.Mutex
	watchers map[string]map[uint64]func()
	nextID   uint64
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var (
	_ ports.CatalogRepository      = (*CatalogRepository)(nil)
	_ ports.ChangeNotifier         = (*CatalogRepository)(nil)
	_ ports.GrantRepository        = (*GrantRepository)(nil)
	_ ports.SessionRepository      = (*SessionRepository)(nil)
	_ ports.ConversationRepository = (*ConversationRepository)(nil)
)

// CatalogRepository, GrantRepository, SessionRepository and
// ConversationRepository are views over one Store.
type (
	CatalogRepository      struct{ store *Store }
	GrantRepository        struct{ store *Store }
	SessionRepository      struct{ store *Store }
	ConversationRepository struct{ store *Store }
)

func (s *Store) Catalog() *CatalogRepository { return &CatalogRepository{store: s} }
func (s *Store) Grants() *GrantRepository { return &GrantRepository{store: s} }
func (s *Store) Sessions() *SessionRepository { return &SessionRepository{store: s} }
func (s *Store) Conversations() *ConversationRepository { return &ConversationRepository{store: s} }

func NewStore(cfg *viper.Viper) (*Store, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	dir := cfg.GetString(storePathKey)
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(homeDir, defaultStateDir)
	}

	dir, err := normalizePath(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, stateDirMode); err != nil {
		return nil, domain.StoreFailure(fmt.Errorf("create state directory: %w", err))
	}

	return &Store{
		dir:             dir,
		catalogMu:       lockForPath(filepath.Join(dir, catalogFileName)),
		grantsMu:        lockForPath(filepath.Join(dir, grantsFileName)),
		sessionsMu:      lockForPath(filepath.Join(dir, sessionsFileName)),
		conversationsMu: lockForPath(filepath.Join(dir, conversationsFileName)),
		watchers:        map[string]map[uint64]func(){},
	}, nil
}

func (s *Store) Dir() string { return s.dir }

// Watch registers onChange for writes to collection made through this
// process. Writes by other processes are not observed.
func (r *CatalogRepository) Watch(ctx context.Context, collection string, onChange func()) (func(), error) {
	return r.store.watch(ctx, collection, onChange)
}

func (s *Store) watch(ctx context.Context, collection string, onChange func()) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	s.nextID++
	id := s.nextID
	if s.watchers[collection] == nil {
		s.watchers[collection] = map[uint64]func(){}
	}
	s.watchers[collection][id] = onChange

	return func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		delete(s.watchers[collection], id)
		if len(s.watchers[collection]) == 0 {
			delete(s.watchers, collection)
		}
	}, nil
}

func (s *Store) notify(collection string) {
	s.watchMu.Lock()
	callbacks := make([]func(), 0, len(s.watchers[collection]))
	for _, callback := range s.watchers[collection] {
		callbacks = append(callbacks, callback)
	}
	s.watchMu.Unlock()

	for _, callback := range callbacks {
		callback()
	}
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

func normalizePath(path string) (string, error) {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve store path: %w", err)
	}
	return filepath.Clean(absolute), nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if lock, ok := pathLockMap[path]; ok {
		return lock
	}

	lock := &sync.RWMutex{}
	pathLockMap[path] = lock
	return lock
}

type versioned interface {
	applyDefaults()
	validateVersion() error
}

func readTOMLFile(path string, file versioned) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			file.applyDefaults()
			return nil
		}
		return domain.StoreFailure(fmt.Errorf("read %s: %w", filepath.Base(path), err))
	}

	if err := toml.Unmarshal(data, file); err != nil {
		return domain.StoreFailure(fmt.Errorf("decode %s: %w", filepath.Base(path), err))
	}
	if err := file.validateVersion(); err != nil {
		return err
	}
	file.applyDefaults()
	return nil
}

func writeTOMLFile(path string, file any) error {
	if err := writeAtomically(path, file); err != nil {
		return domain.StoreFailure(err)
	}
	return nil
}

func writeAtomically(path string, file any) error {
	if err := os.MkdirAll(filepath.Dir(path), stateDirMode); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := tempFile.Chmod(stateFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}

	cleanup = false
	return nil
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}

	return parsed
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}

	return value.UTC().Format(time.RFC3339Nano)
}

func parseOptionalTime(raw string) *time.Time {
	parsed := parseTime(raw)
	if parsed.IsZero() {
		return nil
	}
	return &parsed
}

func formatOptionalTime(value *time.Time) string {
	if value == nil {
		return ""
	}
	return formatTime(*value)
}
