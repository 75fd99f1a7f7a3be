// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

// Package store is keyctl's system of record: one JSON document on disk,
// replaced atomically under an exclusive inter-process file lock.
//
// Readers never lock. Writers serialize on <path>.lock, apply a mutator to a
// copy of the current document and commit it with a temp-file rename, so a
// reader or a crashed writer only ever sees a whole document.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/toeirei/keyctl/internal/errs"
	"github.com/toeirei/keyctl/internal/fsutil"
	"github.com/toeirei/keyctl/internal/logging"
)

const (
	DefaultLockTimeout  = 5 * time.Second
	defaultPollInterval = 50 * time.Millisecond
)

// writeFile is overridable in tests.
var writeFile = fsutil.WriteFile

// Store guards one document file.
type Store struct {
	path    string
	lock    *flock.Flock
	sem     chan struct{}
	timeout time.Duration
	poll    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long Write waits for the lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithPollInterval sets the retry delay while waiting for the lock.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.poll = d
		}
	}
}

// Open prepares a store at path. The file itself is created on first write.
func Open(path string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve store path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, fmt.Errorf("%w: create store dir: %w", errs.ErrIOFault, err)
	}
	s := &Store{
		path:    abs,
		lock:    flock.New(abs + ".lock"),
		sem:     make(chan struct{}, 1),
		timeout: DefaultLockTimeout,
		poll:    defaultPollInterval,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Path returns the absolute document path.
func (s *Store) Path() string { return s.path }

// LockPath returns the path of the lock file.
func (s *Store) LockPath() string { return s.lock.Path() }

// Read returns the current document without locking. A missing file reads
// as an empty document.
func (s *Store) Read(ctx context.Context) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.load()
}

func (s *Store) load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", errs.ErrIOFault, s.path, err)
	}
	doc, err := parseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errs.ErrCorrupt, s.path, err)
	}
	return doc, nil
}

// Write applies mutate to a copy of the current document and commits the
// result. If mutate fails nothing is written and its error is returned
// unchanged. A mutator that changes nothing does not touch the file.
func (s *Store) Write(ctx context.Context, mutate func(*Document) error) (*Document, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := s.load()
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	if next.Equal(cur) {
		return next, nil
	}
	data, err := next.marshal()
	if err != nil {
		return nil, fmt.Errorf("%w: serialize: %w", errs.ErrIOFault, err)
	}
	if err := writeFile(s.path, data, 0o600); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", errs.ErrIOFault, err)
	}
	return next, nil
}

func (s *Store) acquire(ctx context.Context) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	select {
	case s.sem <- struct{}{}:
	case <-lockCtx.Done():
		return nil, fmt.Errorf("%w: waited %s", errs.ErrLocked, s.timeout)
	}

	ok, err := s.lock.TryLockContext(lockCtx, s.poll)
	if err != nil || !ok {
		<-s.sem
		if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %s held for more than %s", errs.ErrLocked, s.lock.Path(), s.timeout)
		}
		return nil, fmt.Errorf("%w: lock %s: %w", errs.ErrIOFault, s.lock.Path(), err)
	}
	return func() {
		if err := s.lock.Unlock(); err != nil {
			logging.Warnf("store: unlock %s: %v", s.lock.Path(), err)
		}
		<-s.sem
	}, nil
}
