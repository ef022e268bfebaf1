// Package activitylog is a bounded append-only activity log backed by a
// JSONL file. One line per entry; reads scan the whole file; Trim rewrites
// it keeping only the newest entries.
package activitylog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry kinds recorded by the relay.
const (
	KindSMSReceived    = "SMS_RECEIVED"
	KindSMSMatched     = "SMS_MATCHED"
	KindWebhookSuccess = "WEBHOOK_SUCCESS"
	KindWebhookError   = "WEBHOOK_ERROR"
	KindOtpSent        = "OTP_SENT"
	KindOtpError       = "OTP_ERROR"
)

// Trim keeps at most this many entries.
const maxEntries = 500

type Entry struct {
	Timestamp int64  `json:"timestamp"`
	Time      string `json:"time"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Details   string `json:"details"`
}

// Sink is the write side of the log. Satisfied by *Log.
type Sink interface {
	Add(kind, message, details string) error
}

type Log struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open activity log: %w", err)
	}

	return &Log{path: path, f: f}, nil
}

func (l *Log) Add(kind, message, details string) error {
	now := time.Now()
	entry := Entry{
		Timestamp: now.UnixMilli(),
		Time:      now.Format("2006-01-02 15:04:05"),
		Kind:      kind,
		Message:   message,
		Details:   details,
	}

	line, err := json.Marshal(&entry)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return fmt.Errorf("activity log closed")
	}
	_, err = l.f.Write(line)
	return err
}

// Entries returns all entries, newest first. Unparseable lines are
// skipped.
func (l *Log) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAll()
}

// Trim rewrites the log keeping only the newest maxEntries entries.
func (l *Log) Trim() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readAll()
	if err != nil {
		return err
	}
	if len(entries) <= maxEntries {
		return nil
	}
	// entries are newest first; keep the first maxEntries, rewrite oldest
	// first to preserve file order
	return l.rewrite(entries[:maxEntries])
}

// Clear removes all entries.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rewrite(nil)
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

func (l *Log) readAll() ([]Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open activity log: %w", err)
	}
	defer f.Close()

	entries := make([]Entry, 0, 128)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// newest first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// rewrite replaces the log file with the given entries (newest first) via
// a temp file rename, then reopens the append handle.
func (l *Log) rewrite(newestFirst []Entry) error {
	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp log: %w", err)
	}

	w := bufio.NewWriter(f)
	for i := len(newestFirst) - 1; i >= 0; i-- {
		line, err := json.Marshal(&newestFirst[i])
		if err != nil {
			continue
		}
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if l.f != nil {
		l.f.Close()
		l.f = nil
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("failed to replace activity log: %w", err)
	}

	reopened, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to reopen activity log: %w", err)
	}
	l.f = reopened
	return nil
}
