// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package execlog is the append-only execution journal for StepChain
// sessions.
//
// # Description
//
// Every session writes newline-delimited JSON records to a single file named
// {chain_id}__{session_id}.jsonl under the service's directory. Files are
// append-only for the life of the session: no rotation, no compaction.
// Writers serialize on a per-file mutex; readers tolerate torn or corrupt
// lines by skipping them.
//
// # Limitations
//
//   - Files grow unbounded for long sessions.
//   - The per-file mutex registry is never pruned; entries are tiny and
//     bounded by the number of sessions seen by this process.
package execlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/StepChain/services/stepchain/datatypes"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInvalidID rejects chain or session identifiers that could escape
	// the journal directory or break the file naming scheme.
	ErrInvalidID = errors.New("invalid journal identifier")

	// ErrNoSessions indicates a chain has no journal files yet.
	ErrNoSessions = errors.New("no sessions recorded for chain")
)

// idPattern matches the server-generated identifier alphabet. Anything else
// is rejected before it can touch the filesystem.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// =============================================================================
// Service
// =============================================================================

// Service writes and reads session journals. Safe for concurrent use.
type Service struct {
	dir   string
	clock func() time.Time

	mu    sync.Mutex             // guards locks
	locks map[string]*sync.Mutex // per-file write locks, keyed by path
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the timestamp source. Tests use this to pin record
// timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates the journal directory if needed and returns a Service.
//
// # Inputs
//
//   - dir: directory that will hold one .jsonl file per (chain, session)
//
// # Outputs
//
//   - *Service: ready for concurrent writers
//   - error: non-nil when the directory cannot be created
func New(dir string, opts ...Option) (*Service, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "stepchain-logs")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory %s: %w", dir, err)
	}
	s := &Service{
		dir:   dir,
		clock: func() time.Time { return time.Now().UTC() },
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	slog.Info("execlog: journal directory ready", "dir", dir)
	return s, nil
}

// Dir returns the journal directory.
func (s *Service) Dir() string { return s.dir }

// =============================================================================
// Write Side
// =============================================================================

// Start appends a session_start record.
func (s *Service) Start(chainID, sessionID string, metadata map[string]any) error {
	return s.append(chainID, sessionID, datatypes.LogRecord{
		Type:     datatypes.LogTypeSessionStart,
		Metadata: metadata,
	})
}

// AppendStep appends a step record, flattening the step result fields onto
// the record. The normalized outline rides along when the caller computed
// one.
func (s *Service) AppendStep(chainID, sessionID string, result datatypes.StepResult, normalized *datatypes.OutlineItem) error {
	step := result.Step
	quality := result.QualityScore
	execTime := result.ExecutionTime
	return s.append(chainID, sessionID, datatypes.LogRecord{
		Type:          datatypes.LogTypeStep,
		Step:          &step,
		StepName:      result.StepName,
		Status:        string(result.Status),
		QualityScore:  &quality,
		ContentType:   result.ContentType,
		ExecutionTime: &execTime,
		Content:       result.Content,
		Normalized:    normalized,
	})
}

// AppendEvent appends a free-form event record.
func (s *Service) AppendEvent(chainID, sessionID, event string, data map[string]any) error {
	return s.append(chainID, sessionID, datatypes.LogRecord{
		Type:  datatypes.LogTypeEvent,
		Event: event,
		Data:  data,
	})
}

// End appends a session_end record.
func (s *Service) End(chainID, sessionID, status string, details map[string]any) error {
	return s.append(chainID, sessionID, datatypes.LogRecord{
		Type:    datatypes.LogTypeSessionEnd,
		Status:  status,
		Details: details,
	})
}

// append stamps the common header and writes one line under the file lock.
func (s *Service) append(chainID, sessionID string, rec datatypes.LogRecord) error {
	path, err := s.path(chainID, sessionID)
	if err != nil {
		return err
	}
	rec.ChainID = chainID
	rec.SessionID = sessionID
	rec.Timestamp = s.clock()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal journal record: %w", err)
	}

	lock := s.fileLock(path)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append journal record: %w", err)
	}
	return nil
}

// fileLock returns the mutex for path, creating it on first use.
func (s *Service) fileLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[path] = lock
	}
	return lock
}

// =============================================================================
// Read Side
// =============================================================================

// ReadRecords parses a session's journal line by line. Corrupt lines are
// skipped with a warning rather than failing the whole read. A missing file
// yields an empty slice, matching a session that has not logged yet.
func (s *Service) ReadRecords(chainID, sessionID string) ([]datatypes.LogRecord, error) {
	path, err := s.path(chainID, sessionID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	defer f.Close()

	var records []datatypes.LogRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec datatypes.LogRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			slog.Warn("execlog: skipping corrupt journal line", "path", path, "line", lineNo, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("failed while scanning journal %s: %w", path, err)
	}
	return records, nil
}

// FindLastEvent scans a session's records newest-first and returns the first
// record whose type matches one of recordTypes. The boolean is false when no
// record matches or the journal does not exist.
func (s *Service) FindLastEvent(chainID, sessionID string, recordTypes ...string) (*datatypes.LogRecord, bool) {
	records, err := s.ReadRecords(chainID, sessionID)
	if err != nil || len(records) == 0 {
		return nil, false
	}
	for i := len(records) - 1; i >= 0; i-- {
		for _, t := range recordTypes {
			if records[i].Type == t {
				rec := records[i]
				return &rec, true
			}
		}
	}
	return nil, false
}

// LatestSessionID resolves the most recently written session for a chain by
// journal file modification time. Used when a caller asks about a chain
// without naming a session.
func (s *Service) LatestSessionID(chainID string) (string, error) {
	if !idPattern.MatchString(chainID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, chainID)
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, chainID+"__*.jsonl"))
	if err != nil {
		return "", fmt.Errorf("failed to list journals for chain %s: %w", chainID, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoSessions, chainID)
	}
	sort.Slice(matches, func(i, j int) bool {
		fi, errI := os.Stat(matches[i])
		fj, errJ := os.Stat(matches[j])
		if errI != nil || errJ != nil {
			return matches[i] < matches[j]
		}
		return fi.ModTime().After(fj.ModTime())
	})
	base := filepath.Base(matches[0])
	sessionID := strings.TrimSuffix(strings.TrimPrefix(base, chainID+"__"), ".jsonl")
	return sessionID, nil
}

// path validates both identifiers and builds the journal file path.
func (s *Service) path(chainID, sessionID string) (string, error) {
	if !idPattern.MatchString(chainID) {
		return "", fmt.Errorf("%w: chain %q", ErrInvalidID, chainID)
	}
	if !idPattern.MatchString(sessionID) {
		return "", fmt.Errorf("%w: session %q", ErrInvalidID, sessionID)
	}
	return filepath.Join(s.dir, fmt.Sprintf("%s__%s.jsonl", chainID, sessionID)), nil
}
