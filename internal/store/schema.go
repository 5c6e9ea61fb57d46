// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store persists claims, assessment bundles, and routing
// decisions in SQLite.
package store

const (
	// SchemaVersion tracks the database schema version for migrations
	SchemaVersion = 1
)

// SQLite schema for the claim store. Decisions and transitions are
// append-only ledgers: triggers abort any UPDATE or DELETE so history
// cannot be rewritten after the fact.
const Schema = `
-- Metadata table for schema version and store state
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- Claims table: current state of each claim.
-- version is the optimistic concurrency token; every committed decision
-- increments it, and commits guard on the version they evaluated.
CREATE TABLE IF NOT EXISTS claims (
    id TEXT PRIMARY KEY,
    claim_number TEXT NOT NULL UNIQUE,
    policy_number TEXT NOT NULL,
    claim_type TEXT NOT NULL,
    priority TEXT NOT NULL,
    amount_cents INTEGER NOT NULL,
    description TEXT,
    incident_date INTEGER,          -- Unix timestamp, 0 when unknown
    submitted_at INTEGER NOT NULL,  -- Unix timestamp
    state TEXT NOT NULL,
    version INTEGER NOT NULL,
    updated_at INTEGER NOT NULL     -- Unix timestamp
);

CREATE INDEX IF NOT EXISTS idx_claims_state ON claims(state);
CREATE INDEX IF NOT EXISTS idx_claims_policy ON claims(policy_number);

-- Bundles table: immutable assessment snapshots, stored as the JSON
-- they were evaluated from plus the fingerprint decisions reference.
CREATE TABLE IF NOT EXISTS bundles (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    claim_id TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    payload TEXT NOT NULL,          -- canonical JSON
    collected_at INTEGER NOT NULL,  -- Unix timestamp
    stored_at INTEGER NOT NULL,     -- Unix timestamp
    FOREIGN KEY(claim_id) REFERENCES claims(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_bundles_claim_id ON bundles(claim_id);

CREATE TRIGGER IF NOT EXISTS bundles_no_update BEFORE UPDATE ON bundles BEGIN
    SELECT RAISE(ABORT, 'bundles are immutable');
END;

-- Decisions table: the routing audit trail.
CREATE TABLE IF NOT EXISTS decisions (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    claim_id TEXT NOT NULL,
    claim_number TEXT NOT NULL,
    bundle_id TEXT,
    bundle_fingerprint TEXT,
    prior_state TEXT NOT NULL,
    resulting_state TEXT NOT NULL,
    rule_name TEXT NOT NULL,
    reason_codes TEXT NOT NULL,     -- JSON array
    trace TEXT,                     -- JSON array of rule checks
    decided_at INTEGER NOT NULL,    -- Unix timestamp
    ruleset_version TEXT NOT NULL,
    claim_version INTEGER NOT NULL,
    prior_decision_id TEXT,
    override INTEGER NOT NULL DEFAULT 0,
    override_actor TEXT,
    FOREIGN KEY(claim_id) REFERENCES claims(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_decisions_claim_id ON decisions(claim_id);
CREATE INDEX IF NOT EXISTS idx_decisions_decided_at ON decisions(decided_at);

CREATE TRIGGER IF NOT EXISTS decisions_no_update BEFORE UPDATE ON decisions BEGIN
    SELECT RAISE(ABORT, 'decisions are append-only');
END;

CREATE TRIGGER IF NOT EXISTS decisions_no_delete BEFORE DELETE ON decisions BEGIN
    SELECT RAISE(ABORT, 'decisions are append-only');
END;

-- Transitions table: one row per committed state change.
CREATE TABLE IF NOT EXISTS transitions (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    claim_id TEXT NOT NULL,
    from_state TEXT NOT NULL,
    to_state TEXT NOT NULL,
    decision_id TEXT,
    at INTEGER NOT NULL,            -- Unix timestamp
    FOREIGN KEY(claim_id) REFERENCES claims(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_transitions_claim_id ON transitions(claim_id);

CREATE TRIGGER IF NOT EXISTS transitions_no_update BEFORE UPDATE ON transitions BEGIN
    SELECT RAISE(ABORT, 'transitions are append-only');
END;

CREATE TRIGGER IF NOT EXISTS transitions_no_delete BEFORE DELETE ON transitions BEGIN
    SELECT RAISE(ABORT, 'transitions are append-only');
END;
`

// InitMetadata initializes the metadata table with default values
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('created_at', strftime('%s', 'now'));
`
