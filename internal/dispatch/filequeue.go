// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jeranaias/claimroute/internal/assessment"
	"github.com/jeranaias/claimroute/internal/claim"
	"github.com/jeranaias/claimroute/internal/routing"
	"github.com/jeranaias/claimroute/internal/util"
)

// ===== FILE QUEUE =====

// Queue directory names under the dispatch root.
const (
	QueueSettlements = "settlements"
	QueueReview      = "review"
	QueueNotices     = "notices"
)

// FileQueue dispatches decisions as JSON files, one per decision, into a
// destination directory per queue. Downstream consumers poll the directories
// and remove files they have ingested. Writes are atomic, so a file that
// exists is always a complete document.
type FileQueue struct {
	root string
}

// NewFileQueue creates the queue directories under root.
func NewFileQueue(root string) (*FileQueue, error) {
	for _, q := range []string{QueueSettlements, QueueReview, QueueNotices} {
		if err := os.MkdirAll(filepath.Join(root, q), 0700); err != nil {
			return nil, fmt.Errorf("failed to create queue directory %s: %w", q, err)
		}
	}
	return &FileQueue{root: root}, nil
}

// Root returns the dispatch root directory.
func (f *FileQueue) Root() string {
	return f.root
}

// Dispatch implements Dispatcher. The file name embeds the claim number so
// operators can eyeball a queue directory; the decision ID keeps it unique.
func (f *FileQueue) Dispatch(ctx context.Context, c *claim.Claim, b *assessment.Bundle, d *routing.Decision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c == nil || d == nil {
		return fmt.Errorf("dispatch requires a claim and a decision")
	}

	queue, doc, err := buildDocument(c, b, d, time.Now().UTC())
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s document: %w", queue, err)
	}

	name := fmt.Sprintf("%s_%s.json", c.ClaimNumber, d.ID)
	path := filepath.Join(f.root, queue, name)
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s document: %w", queue, err)
	}
	return nil
}

// Pending returns the number of files waiting in a queue directory.
func (f *FileQueue) Pending(queue string) (int, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, queue))
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			count++
		}
	}
	return count, nil
}
