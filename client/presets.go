package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"

	"tasksync/domain"
)

// PresetsKey is the key the preset list is stored under.
const PresetsKey = "taskFilterPresets"

// KVStore is client-local string storage.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// MemoryKV is a KVStore kept in process memory.
type MemoryKV struct {
	mu sync.Mutex
	m  map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{m: make(map[string]string)}
}

func (kv *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.m[key]
	return v, ok, nil
}

func (kv *MemoryKV) Set(_ context.Context, key, value string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.m[key] = value
	return nil
}

// SQLiteKV is a KVStore backed by a single-table SQLite database.
type SQLiteKV struct {
	db *sql.DB
}

// OpenSQLiteKV opens (creating if needed) the database at path.
func OpenSQLiteKV(ctx context.Context, path string) (*SQLiteKV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	// modernc.org/sqlite registers as "sqlite".
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS kv (
			k TEXT PRIMARY KEY,
			v TEXT NOT NULL
		);`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}
	return &SQLiteKV{db: db}, nil
}

func (kv *SQLiteKV) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := kv.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (kv *SQLiteKV) Set(ctx context.Context, key, value string) error {
	_, err := kv.db.ExecContext(ctx,
		`INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, key, value)
	return err
}

func (kv *SQLiteKV) Close() error {
	return kv.db.Close()
}

// Preset is a named filter set.
type Preset struct {
	Name    string        `json:"name"`
	Filters domain.Filter `json:"filters"`
}

// PresetStore keeps the ordered, append-only preset list in a KVStore.
type PresetStore struct {
	kv KVStore
}

func NewPresetStore(kv KVStore) *PresetStore {
	return &PresetStore{kv: kv}
}

// List returns every saved preset in save order.
func (p *PresetStore) List(ctx context.Context) ([]Preset, error) {
	raw, ok, err := p.kv.Get(ctx, PresetsKey)
	if err != nil {
		return nil, fmt.Errorf("load presets: %w", err)
	}
	presets := []Preset{}
	if !ok || raw == "" {
		return presets, nil
	}
	if err := sonic.UnmarshalString(raw, &presets); err != nil {
		return nil, fmt.Errorf("decode presets: %w", err)
	}
	return presets, nil
}

// Save appends a preset. Names are not unique; an empty name is ignored.
func (p *PresetStore) Save(ctx context.Context, name string, f domain.Filter) error {
	if name == "" {
		return nil
	}
	presets, err := p.List(ctx)
	if err != nil {
		return err
	}
	presets = append(presets, Preset{Name: name, Filters: f})
	raw, err := sonic.MarshalString(presets)
	if err != nil {
		return fmt.Errorf("encode presets: %w", err)
	}
	return p.kv.Set(ctx, PresetsKey, raw)
}

// Find returns the most recently saved preset called name.
func (p *PresetStore) Find(ctx context.Context, name string) (Preset, bool, error) {
	presets, err := p.List(ctx)
	if err != nil {
		return Preset{}, false, err
	}
	for i := len(presets) - 1; i >= 0; i-- {
		if presets[i].Name == name {
			return presets[i], true, nil
		}
	}
	return Preset{}, false, nil
}
