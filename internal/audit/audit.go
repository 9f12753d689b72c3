// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package audit records answered chat turns so routing decisions and the
// sources behind each answer can be reviewed later. It supports both
// JSON-lines file and SQLite storage.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	StorageTypeFile   = "file"
	StorageTypeSQLite = "sqlite"
)

// ErrUnsupported is returned by queries the file backend cannot answer
var ErrUnsupported = errors.New("operation requires sqlite storage")

// Turn is one answered chat request
type Turn struct {
	ID        string    `json:"id"`
	Route     string    `json:"route"`
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	Thoughts  string    `json:"thoughts,omitempty"`
	Duration  int64     `json:"duration_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// Config holds configuration for the audit log
type Config struct {
	StorageType string `mapstructure:"storage_type"`
	FilePath    string `mapstructure:"file_path"`
	DBPath      string `mapstructure:"db_path"`
}

// Log writes turns to the configured backend
type Log struct {
	config Config
	logger *zap.Logger
	db     *sql.DB
	mu     sync.RWMutex
	now    func() time.Time
}

// NewLog creates an audit log
func NewLog(config Config, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Log{config: config, logger: logger, now: time.Now}

	switch config.StorageType {
	case StorageTypeFile:
		if err := l.initFileStorage(); err != nil {
			return nil, fmt.Errorf("failed to initialize file storage: %w", err)
		}
	case StorageTypeSQLite:
		if err := l.initSQLiteStorage(); err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite storage: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.StorageType)
	}

	return l, nil
}

func (l *Log) initFileStorage() error {
	if err := os.MkdirAll(filepath.Dir(l.config.FilePath), 0750); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	file, err := os.OpenFile(l.config.FilePath, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create audit file: %w", err)
	}
	return file.Close()
}

func (l *Log) initSQLiteStorage() error {
	if err := os.MkdirAll(filepath.Dir(l.config.DBPath), 0750); err != nil {
		return fmt.Errorf("failed to create audit database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", l.config.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS chat_turns (
			id TEXT PRIMARY KEY,
			route TEXT NOT NULL,
			query TEXT NOT NULL,
			answer TEXT NOT NULL,
			thoughts TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_chat_turns_route ON chat_turns(route);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create chat_turns table: %w", err)
	}

	l.db = db
	return nil
}

// Record stores a turn, filling in the ID and timestamp when unset
func (l *Log) Record(ctx context.Context, turn Turn) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = l.now()
	}
	if turn.ID == "" {
		turn.ID = fmt.Sprintf("turn_%d", turn.CreatedAt.UnixNano())
	}

	var err error
	switch l.config.StorageType {
	case StorageTypeFile:
		err = l.writeFile(turn)
	case StorageTypeSQLite:
		err = l.writeSQLite(ctx, turn)
	default:
		err = fmt.Errorf("unsupported storage type: %s", l.config.StorageType)
	}
	if err != nil {
		return err
	}

	l.logger.Debug("Chat turn recorded",
		zap.String("id", turn.ID),
		zap.String("route", turn.Route))
	return nil
}

func (l *Log) writeFile(turn Turn) error {
	file, err := os.OpenFile(l.config.FilePath, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	defer func() { _ = file.Close() }()

	line, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write turn to file: %w", err)
	}
	return nil
}

func (l *Log) writeSQLite(ctx context.Context, turn Turn) error {
	if l.db == nil {
		return errors.New("SQLite database not initialized")
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO chat_turns (id, route, query, answer, thoughts, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.Route, turn.Query, turn.Answer, turn.Thoughts, turn.Duration, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert turn into SQLite: %w", err)
	}
	return nil
}

// Recent returns the newest turns first
func (l *Log) Recent(ctx context.Context, limit int) ([]Turn, error) {
	if l.config.StorageType != StorageTypeSQLite || l.db == nil {
		return nil, ErrUnsupported
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, route, query, answer, thoughts, duration_ms, created_at
		FROM chat_turns
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		var thoughts sql.NullString
		if err := rows.Scan(&turn.ID, &turn.Route, &turn.Query, &turn.Answer, &thoughts, &turn.Duration, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		turn.Thoughts = thoughts.String
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turn rows: %w", err)
	}
	return turns, nil
}

// RouteCounts returns how many turns each route handled
func (l *Log) RouteCounts(ctx context.Context) (map[string]int, error) {
	if l.config.StorageType != StorageTypeSQLite || l.db == nil {
		return nil, ErrUnsupported
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.QueryContext(ctx, `SELECT route, COUNT(*) FROM chat_turns GROUP BY route`)
	if err != nil {
		return nil, fmt.Errorf("failed to query route counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var route string
		var count int
		if err := rows.Scan(&route, &count); err != nil {
			return nil, fmt.Errorf("failed to scan route count: %w", err)
		}
		counts[route] = count
	}
	return counts, rows.Err()
}

// Close releases the database handle
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.db != nil {
		return l.db.Close()
	}
	return nil
}
