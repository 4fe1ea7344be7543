package store

import "database/sql"

// schemaSQL defines the report database schema.
//
// source_file and context use content-addressed primary keys (a hash of the
// path or name), while the measurement tables use composite (raw_upload_id,
// local_*_id) keys. Merge relies on this split: see Store.Merge.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS source_file (
    id   INTEGER PRIMARY KEY,
    path TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS context (
    id   INTEGER PRIMARY KEY,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS raw_upload (
    id              INTEGER PRIMARY KEY,
    session_index   INTEGER,
    timestamp       INTEGER,
    raw_upload_url  TEXT,
    flags           TEXT,
    provider        TEXT,
    build           TEXT,
    name            TEXT,
    job_name        TEXT,
    ci_run_url      TEXT,
    state           TEXT,
    env             TEXT,
    session_type    TEXT,
    session_extras  TEXT
);

CREATE TABLE IF NOT EXISTS coverage_sample (
    raw_upload_id   INTEGER NOT NULL REFERENCES raw_upload(id),
    local_sample_id INTEGER NOT NULL,
    source_file_id  INTEGER NOT NULL REFERENCES source_file(id),
    line_no         INTEGER NOT NULL,
    coverage_type   TEXT NOT NULL,
    hits            INTEGER,
    hit_branches    INTEGER,
    total_branches  INTEGER,
    PRIMARY KEY (raw_upload_id, local_sample_id)
);

CREATE TABLE IF NOT EXISTS branches_data (
    raw_upload_id   INTEGER NOT NULL REFERENCES raw_upload(id),
    local_branch_id INTEGER NOT NULL,
    source_file_id  INTEGER NOT NULL REFERENCES source_file(id),
    local_sample_id INTEGER NOT NULL,
    hits            INTEGER NOT NULL,
    branch_format   TEXT NOT NULL,
    branch          TEXT NOT NULL,
    PRIMARY KEY (raw_upload_id, local_branch_id)
);

CREATE TABLE IF NOT EXISTS method_data (
    raw_upload_id        INTEGER NOT NULL REFERENCES raw_upload(id),
    local_method_id      INTEGER NOT NULL,
    source_file_id       INTEGER NOT NULL REFERENCES source_file(id),
    local_sample_id      INTEGER NOT NULL,
    line_no              INTEGER,
    hit_branches         INTEGER,
    total_branches       INTEGER,
    hit_complexity_paths INTEGER,
    total_complexity     INTEGER,
    PRIMARY KEY (raw_upload_id, local_method_id)
);

CREATE TABLE IF NOT EXISTS span_data (
    raw_upload_id   INTEGER NOT NULL REFERENCES raw_upload(id),
    local_span_id   INTEGER NOT NULL,
    source_file_id  INTEGER NOT NULL REFERENCES source_file(id),
    local_sample_id INTEGER NOT NULL,
    hits            INTEGER NOT NULL,
    start_line      INTEGER,
    start_col       INTEGER,
    end_line        INTEGER,
    end_col         INTEGER,
    PRIMARY KEY (raw_upload_id, local_span_id)
);

CREATE TABLE IF NOT EXISTS context_assoc (
    context_id      INTEGER NOT NULL REFERENCES context(id),
    raw_upload_id   INTEGER NOT NULL,
    local_sample_id INTEGER,
    local_branch_id INTEGER,
    local_method_id INTEGER,
    local_span_id   INTEGER
);

CREATE INDEX IF NOT EXISTS idx_sample_file ON coverage_sample(source_file_id);
CREATE INDEX IF NOT EXISTS idx_assoc_sample ON context_assoc(raw_upload_id, local_sample_id);
`

func initSchema(db *sql.DB) error {
	_, err := db.Exec(schemaSQL)
	return err
}
