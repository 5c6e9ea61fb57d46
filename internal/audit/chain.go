// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// =============================================================================
// CHAIN ENTRY
// =============================================================================

// ChainEntry is one link in the audit chain. Each entry hashes the event
// it covers and the previous entry, so any rewrite of history breaks every
// hash after the edit.
type ChainEntry struct {
	Index        int       `json:"index"`
	Timestamp    time.Time `json:"timestamp"`
	EventHash    string    `json:"event_hash"`    // HMAC-SHA-256 of the event line
	PreviousHash string    `json:"previous_hash"` // ChainHash of the previous entry
	ChainHash    string    `json:"chain_hash"`    // HMAC-SHA-256 of this entry
}

// =============================================================================
// CHAIN
// =============================================================================

// chain maintains the hash chain and its external witness file. The witness
// is an append-only record of chain heads kept separate from the chain
// itself, so replacing the whole chain still leaves a discrepancy.
type chain struct {
	chainFile   string
	witnessFile string
	entries     []ChainEntry
	key         []byte

	maxRetries int
	retryBase  time.Duration
}

func newChain(chainFile, witnessFile string, key []byte) *chain {
	return &chain{
		chainFile:   chainFile,
		witnessFile: witnessFile,
		key:         key,
		maxRetries:  3,
		retryBase:   100 * time.Millisecond,
	}
}

// load reads the persisted chain, if any.
func (c *chain) load() error {
	data, err := os.ReadFile(c.chainFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &c.entries)
}

// sign appends an entry covering eventData and persists chain and witness.
// Saves are synchronous with bounded retry; on failure the entry is removed
// so the in-memory chain never diverges from disk.
func (c *chain) sign(eventData []byte, ts time.Time) error {
	entry := ChainEntry{
		Index:     len(c.entries),
		Timestamp: ts,
		EventHash: c.computeHash(eventData),
	}
	if len(c.entries) > 0 {
		entry.PreviousHash = c.entries[len(c.entries)-1].ChainHash
	}

	entryData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal chain entry: %w", err)
	}
	entry.ChainHash = c.computeHash(entryData)
	c.entries = append(c.entries, entry)

	if err := c.withRetry(c.save); err != nil {
		c.entries = c.entries[:len(c.entries)-1]
		return fmt.Errorf("chain save failed: %w", err)
	}
	if err := c.withRetry(func() error { return c.writeWitness(entry) }); err != nil {
		return fmt.Errorf("witness write failed: %w", err)
	}
	return nil
}

// withRetry runs fn with exponential backoff: 100ms, 200ms, 400ms.
func (c *chain) withRetry(fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(c.retryBase * time.Duration(1<<uint(attempt-1)))
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", c.maxRetries, lastErr)
}

// save writes the chain atomically: temp file then rename.
func (c *chain) save() error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal chain: %w", err)
	}

	tmpFile := c.chainFile + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write chain: %w", err)
	}
	if err := os.Rename(tmpFile, c.chainFile); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename chain file: %w", err)
	}
	return nil
}

// writeWitness appends "timestamp|index|chain_hash" to the witness file.
func (c *chain) writeWitness(entry ChainEntry) error {
	file, err := os.OpenFile(c.witnessFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open witness file: %w", err)
	}
	defer file.Close()

	witness := fmt.Sprintf("%s|%d|%s\n",
		entry.Timestamp.Format(time.RFC3339Nano),
		entry.Index,
		entry.ChainHash)
	if _, err := file.WriteString(witness); err != nil {
		return fmt.Errorf("failed to write witness: %w", err)
	}
	return file.Sync()
}

// computeHash computes the HMAC-SHA-256 of data, hex-encoded.
func (c *chain) computeHash(data []byte) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// head returns the chain hash of the newest entry, or "" when empty.
func (c *chain) head() string {
	if len(c.entries) == 0 {
		return ""
	}
	return c.entries[len(c.entries)-1].ChainHash
}

// =============================================================================
// VERIFICATION
// =============================================================================

// verifyIntegrity walks the chain checking indices, linkage, timestamp
// order, and every chain hash. An empty chain with an existing chain file
// is treated as tampering, not as a fresh system.
func (c *chain) verifyIntegrity() (bool, []string) {
	issues := make([]string, 0)

	if len(c.entries) == 0 {
		if _, err := os.Stat(c.chainFile); os.IsNotExist(err) {
			return true, nil
		}
		issues = append(issues, "empty audit chain with existing chain file; possible truncation")
		return false, issues
	}

	var lastTimestamp time.Time
	for i, entry := range c.entries {
		if entry.Index != i {
			issues = append(issues, fmt.Sprintf("entry %d has incorrect index %d", i, entry.Index))
		}

		if i > 0 {
			if entry.Timestamp.Before(lastTimestamp) {
				issues = append(issues, fmt.Sprintf("entry %d has non-monotonic timestamp: %s before %s",
					i, entry.Timestamp.Format(time.RFC3339), lastTimestamp.Format(time.RFC3339)))
			}
			if entry.PreviousHash != c.entries[i-1].ChainHash {
				issues = append(issues, fmt.Sprintf("entry %d has broken chain linkage", i))
			}
		} else if entry.PreviousHash != "" {
			issues = append(issues, "entry 0 should have empty previous hash")
		}
		lastTimestamp = entry.Timestamp

		check := entry
		check.ChainHash = ""
		entryData, err := json.Marshal(check)
		if err != nil {
			issues = append(issues, fmt.Sprintf("entry %d cannot be re-serialized: %v", i, err))
			continue
		}
		computed := c.computeHash(entryData)
		// Constant-time comparison
		if !hmac.Equal([]byte(entry.ChainHash), []byte(computed)) {
			issues = append(issues, fmt.Sprintf("entry %d has invalid chain hash", i))
		}
	}

	return len(issues) == 0, issues
}

// verifyWitness cross-checks the external witness file against the chain.
func (c *chain) verifyWitness() (bool, []string, error) {
	issues := make([]string, 0)

	data, err := os.ReadFile(c.witnessFile)
	if err != nil {
		if os.IsNotExist(err) {
			if len(c.entries) == 0 {
				return true, nil, nil
			}
			issues = append(issues, "witness file missing for non-empty chain")
			return false, issues, nil
		}
		return false, issues, fmt.Errorf("failed to read witness file: %w", err)
	}

	witnessCount := 0
	for i, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) != 3 {
			issues = append(issues, fmt.Sprintf("witness line %d has invalid format", i))
			continue
		}

		witnessTime, err := time.Parse(time.RFC3339Nano, parts[0])
		if err != nil {
			issues = append(issues, fmt.Sprintf("witness line %d has invalid timestamp", i))
			continue
		}
		var witnessIndex int
		if _, err := fmt.Sscanf(parts[1], "%d", &witnessIndex); err != nil {
			issues = append(issues, fmt.Sprintf("witness line %d has invalid index", i))
			continue
		}

		if witnessIndex >= len(c.entries) {
			issues = append(issues, fmt.Sprintf("witness line %d references missing chain index %d", i, witnessIndex))
			continue
		}

		entry := c.entries[witnessIndex]
		if !hmac.Equal([]byte(entry.ChainHash), []byte(parts[2])) {
			issues = append(issues, fmt.Sprintf("witness line %d hash mismatch at chain index %d", i, witnessIndex))
		}
		if !entry.Timestamp.Equal(witnessTime) {
			issues = append(issues, fmt.Sprintf("witness line %d timestamp mismatch at chain index %d", i, witnessIndex))
		}
		witnessCount++
	}

	if witnessCount < len(c.entries) {
		issues = append(issues, fmt.Sprintf("witness has fewer entries (%d) than chain (%d)",
			witnessCount, len(c.entries)))
	}

	return len(issues) == 0, issues, nil
}
