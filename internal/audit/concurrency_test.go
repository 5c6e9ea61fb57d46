// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit writes the tamper-evident record of every routing action.
//
// This file contains tests for concurrent use of the log:
// - Parallel appends from many goroutines
// - Readers running against active writers
// - Chain integrity after contention
package audit

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// =============================================================================
// CONCURRENT APPEND TESTS
// =============================================================================

// TestLog_ConcurrentAppend hammers Append from many goroutines and checks
// that every event lands and the chain still verifies.
func TestLog_ConcurrentAppend(t *testing.T) {
	l, _ := openTestLog(t, Options{HaltOnFailure: true})

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				ev := Event{
					Kind:    EventDecisionCommitted,
					ClaimID: fmt.Sprintf("clm_w%d_%d", w, i),
					Detail:  map[string]string{"writer": fmt.Sprintf("%d", w)},
				}
				if err := l.Append(ev); err != nil {
					t.Errorf("Append failed under contention: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, writers*perWriter, l.ChainLength(), "every append should extend the chain")

	events, err := l.Events()
	require.NoError(t, err)
	require.Len(t, events, writers*perWriter)

	report, err := l.Verify()
	require.NoError(t, err)
	require.True(t, report.Verified, "chain should verify after concurrent appends, issues: %v", report.Issues)
	require.Equal(t, writers*perWriter, report.ChainLength)
}

// TestLog_ConcurrentAppendAndRead runs readers against active writers. The
// reads must never observe a torn chain or panic.
func TestLog_ConcurrentAppendAndRead(t *testing.T) {
	l, _ := openTestLog(t, Options{})

	var wg sync.WaitGroup

	// Writers
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_ = l.Append(Event{
					Kind:    EventClaimRegistered,
					ClaimID: fmt.Sprintf("clm_r%d_%d", w, i),
				})
			}
		}(w)
	}

	// Readers
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, err := l.Events()
				require.NoError(t, err)
				_ = l.ChainLength()
				_ = l.Head()
			}
		}()
	}

	wg.Wait()

	report, err := l.Verify()
	require.NoError(t, err)
	require.True(t, report.Verified, "issues: %v", report.Issues)
	require.Equal(t, 80, report.ChainLength)
}

// TestLog_ConcurrentVerify interleaves integrity checks with appends. Verify
// holds the same lock as Append, so each report must be self-consistent.
func TestLog_ConcurrentVerify(t *testing.T) {
	l, _ := openTestLog(t, Options{})

	var wg sync.WaitGroup

	for w := 0; w < 3; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 15; i++ {
				_ = l.Append(Event{
					Kind:    EventBundleReceived,
					ClaimID: fmt.Sprintf("clm_v%d_%d", w, i),
				})
			}
		}(w)
	}

	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				report, err := l.Verify()
				require.NoError(t, err)
				require.True(t, report.Verified, "mid-write verify failed, issues: %v", report.Issues)
			}
		}()
	}

	wg.Wait()

	require.Equal(t, 45, l.ChainLength())
}

// TestLog_HeadStableAcrossReads checks that Head is deterministic once
// writers stop.
func TestLog_HeadStableAcrossReads(t *testing.T) {
	l, _ := openTestLog(t, Options{})

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Append(Event{Kind: EventDispatchQueued, ClaimID: fmt.Sprintf("clm_%d", i)}))
	}

	head := l.Head()
	require.NotEmpty(t, head)

	var wg sync.WaitGroup
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.Equal(t, head, l.Head())
		}()
	}
	wg.Wait()
}
