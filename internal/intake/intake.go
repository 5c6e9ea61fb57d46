// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package intake ingests claim submissions dropped into a directory as JSON
// files.
//
// Upstream systems write one submission document per file. A watcher picks
// each file up after it settles, a small worker pool parses and routes it,
// and the file is moved to processed/ on success or failed/ (with an error
// sidecar) on rejection. Version conflicts retry inside the routing
// pipeline; a submission only lands in failed/ for errors that re-running
// would not fix.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/claimroute/internal/assessment"
	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/pipeline"
	"github.com/jeranaias/claimroute/internal/store"
)

// =============================================================================
// SUBMISSION DOCUMENT
// =============================================================================

// Submission is the drop-file wire format. The claim fields register the
// claim when its number is not yet known; the optional assessment routes it
// in the same pass.
type Submission struct {
	ClaimNumber  string            `json:"claim_number"`
	PolicyNumber string            `json:"policy_number"`
	ClaimType    string            `json:"claim_type"`
	AmountCents  int64             `json:"amount_cents"`
	Assessment   *assessment.Input `json:"assessment,omitempty"`
}

// =============================================================================
// INTAKE SERVICE
// =============================================================================

// Defaults for the worker pool and debounce window.
const (
	DefaultWorkers  = 2
	DefaultDebounce = 500 * time.Millisecond

	processedDirName = "processed"
	failedDirName    = "failed"
)

// Stats counts intake activity since the service started.
type Stats struct {
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Registered int64 `json:"registered"`
	Routed     int64 `json:"routed"`
}

// Service drains a drop directory through the routing pipeline.
type Service struct {
	pipeline *pipeline.Service
	root     string
	workers  int
	debounce time.Duration

	queue   chan string
	watcher FileWatcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	processed  atomic.Int64
	failed     atomic.Int64
	registered atomic.Int64
	routed     atomic.Int64
}

// NewService creates an intake service over a drop directory, creating the
// directory and its processed/ and failed/ subdirectories.
func NewService(p *pipeline.Service, dir string, workers int) (*Service, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	for _, d := range []string{dir, filepath.Join(dir, processedDirName), filepath.Join(dir, failedDirName)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return nil, fmt.Errorf("failed to create intake directory: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		pipeline: p,
		root:     dir,
		workers:  workers,
		debounce: DefaultDebounce,
		queue:    make(chan string, 64),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// WithDebounce overrides the watcher debounce window. Call before Start.
func (s *Service) WithDebounce(d time.Duration) *Service {
	if d > 0 {
		s.debounce = d
	}
	return s
}

// Root returns the drop directory.
func (s *Service) Root() string {
	return s.root
}

// Stats returns a snapshot of intake counters.
func (s *Service) Stats() Stats {
	return Stats{
		Processed:  s.processed.Load(),
		Failed:     s.failed.Load(),
		Registered: s.registered.Load(),
		Routed:     s.routed.Load(),
	}
}

// Start launches the worker pool, drains any backlog already sitting in the
// drop directory, and begins watching for new files.
func (s *Service) Start() error {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	if err := s.enqueueBacklog(); err != nil {
		return err
	}

	w, err := StartWatcher(s.root, s.debounce, s.enqueue)
	if err != nil {
		return err
	}
	s.watcher = w
	return nil
}

// Stop shuts down the watcher and waits for in-flight submissions.
func (s *Service) Stop() {
	s.cancel()
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.wg.Wait()
}

// enqueueBacklog queues submission files that were dropped while the
// service was down.
func (s *Service) enqueueBacklog() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(s.root, entry.Name())
		if submissionFile(path) {
			s.enqueue(path)
		}
	}
	return nil
}

func (s *Service) enqueue(path string) {
	select {
	case <-s.ctx.Done():
	case s.queue <- path:
	}
}

func (s *Service) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case path := <-s.queue:
			s.Process(s.ctx, path)
		}
	}
}

// =============================================================================
// SUBMISSION PROCESSING
// =============================================================================

// Process ingests a single submission file and files it under processed/ or
// failed/. Safe to call for a path that has already been consumed; duplicate
// watcher events are skipped by the initial stat.
func (s *Service) Process(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		// Already moved by an earlier event for the same drop.
		return
	}

	if err := s.ingest(ctx, path); err != nil {
		s.failed.Add(1)
		s.moveTo(path, failedDirName)
		s.writeErrorSidecar(path, err)
		return
	}

	s.processed.Add(1)
	s.moveTo(path, processedDirName)
}

// ingest parses and applies one submission.
func (s *Service) ingest(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read submission: %w", err)
	}

	var sub Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return fmt.Errorf("parse submission: %w", err)
	}

	c, err := s.resolveClaim(ctx, &sub)
	if err != nil {
		return err
	}

	if sub.Assessment == nil {
		// Registration-only drop; the claim waits in pending until an
		// assessment arrives.
		return nil
	}

	if _, err := s.pipeline.RouteWith(ctx, c.ID, sub.Assessment); err != nil {
		return err
	}
	s.routed.Add(1)
	return nil
}

// resolveClaim finds the claim by number or registers it.
func (s *Service) resolveClaim(ctx context.Context, sub *Submission) (*claim.Claim, error) {
	c, err := s.pipeline.Store.GetClaimByNumber(ctx, sub.ClaimNumber)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	c, err = s.pipeline.Register(ctx, sub.ClaimNumber, sub.PolicyNumber, claim.Type(sub.ClaimType), sub.AmountCents)
	if err != nil {
		return nil, fmt.Errorf("register claim: %w", err)
	}
	s.registered.Add(1)
	return c, nil
}

// moveTo relocates a consumed submission file into a sibling directory,
// suffixing the name if a previous drop already used it.
func (s *Service) moveTo(path, dirName string) {
	base := filepath.Base(path)
	dest := filepath.Join(s.root, dirName, base)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(base)
		stem := base[:len(base)-len(ext)]
		dest = filepath.Join(s.root, dirName,
			fmt.Sprintf("%s.%d%s", stem, time.Now().UnixNano(), ext))
	}
	os.Rename(path, dest)
}

// writeErrorSidecar records why a submission failed next to the failed file.
func (s *Service) writeErrorSidecar(path string, ingestErr error) {
	name := filepath.Base(path) + ".error.txt"
	msg := fmt.Sprintf("%s\t%s\n", time.Now().UTC().Format(time.RFC3339), ingestErr.Error())
	os.WriteFile(filepath.Join(s.root, failedDirName, name), []byte(msg), 0600)
}
