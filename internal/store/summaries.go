package store

import (
	"database/sql"
	"fmt"

	"github.com/anthropics/pyreport/internal/model"
)

// The pyreport encoder consumes pre-joined, pre-sorted row streams rather
// than walking the model row by row. Chunk indexes are the dense rank of
// source_file IDs (content-addressed, so stable across re-parses) and
// session indexes are the dense rank of (session_index, id) over raw_upload,
// which preserves the parse-time session numbering and still yields unique
// dense indexes after a merge.

const fileIndexCTE = `file_index AS (
	SELECT id, path, ROW_NUMBER() OVER (ORDER BY id) - 1 AS chunk_index
	FROM source_file
)`

const sessionIndexCTE = `session_rank AS (
	SELECT id, ROW_NUMBER() OVER (ORDER BY session_index IS NULL, session_index, id) - 1 AS session_index
	FROM raw_upload
)`

// FileSummaryRow is one (file, session) pair with whole-file aggregates
// repeated on every row for the same file. Rows arrive ordered by chunk
// index then session index. A file with no samples produces a single row
// with HasSession false.
type FileSummaryRow struct {
	ChunkIndex int64
	Path       string

	// Whole-file aggregates, merged across sessions per line.
	Lines, Hits, Misses, Partials int64
	Branches, Methods             int64
	HitComplexity, TotalComplexity int64

	HasSession   bool
	SessionIndex int64

	SessionLines, SessionHits, SessionMisses, SessionPartials int64
}

// FileSummaries streams per-file, per-session aggregate rows in chunk-index
// order.
func (s *Store) FileSummaries(fn func(FileSummaryRow) error) error {
	query := `WITH ` + fileIndexCTE + `, ` + sessionIndexCTE + `,
	line_status AS (
		SELECT source_file_id, line_no, coverage_type,
			COALESCE(MAX(CASE WHEN coverage_type = 'b'
				THEN hit_branches >= total_branches
				ELSE hits > 0 END), 0) AS hit,
			COALESCE(MAX(coverage_type = 'b' AND hit_branches > 0 AND hit_branches < total_branches), 0) AS partial
		FROM coverage_sample
		GROUP BY source_file_id, line_no, coverage_type
	),
	file_totals AS (
		SELECT source_file_id,
			COUNT(*) AS lines,
			SUM(hit) AS hits,
			SUM(NOT hit AND partial) AS partials,
			SUM(NOT hit AND NOT partial) AS misses,
			SUM(coverage_type = 'b') AS branches,
			SUM(coverage_type = 'm') AS methods
		FROM line_status
		GROUP BY source_file_id
	),
	file_complexity AS (
		SELECT source_file_id,
			COALESCE(SUM(hit_complexity_paths), 0) AS hit_complexity,
			COALESCE(SUM(total_complexity), 0) AS total_complexity
		FROM method_data
		GROUP BY source_file_id
	),
	session_totals AS (
		SELECT source_file_id, raw_upload_id,
			COUNT(*) AS lines,
			COALESCE(SUM(CASE WHEN coverage_type = 'b'
				THEN hit_branches >= total_branches
				ELSE hits > 0 END), 0) AS hits,
			COALESCE(SUM(coverage_type = 'b' AND hit_branches > 0 AND hit_branches < total_branches), 0) AS partials
		FROM coverage_sample
		GROUP BY source_file_id, raw_upload_id
	)
	SELECT fi.chunk_index, fi.path,
		COALESCE(ft.lines, 0), COALESCE(ft.hits, 0), COALESCE(ft.misses, 0), COALESCE(ft.partials, 0),
		COALESCE(ft.branches, 0), COALESCE(ft.methods, 0),
		COALESCE(fc.hit_complexity, 0), COALESCE(fc.total_complexity, 0),
		sr.session_index, st.lines, st.hits, st.partials
	FROM file_index fi
	LEFT JOIN file_totals ft ON ft.source_file_id = fi.id
	LEFT JOIN file_complexity fc ON fc.source_file_id = fi.id
	LEFT JOIN session_totals st ON st.source_file_id = fi.id
	LEFT JOIN session_rank sr ON sr.id = st.raw_upload_id
	ORDER BY fi.chunk_index, sr.session_index`

	rows, err := s.db.Query(query)
	if err != nil {
		return fmt.Errorf("query file summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r FileSummaryRow
		var sessionIndex, sessionLines, sessionHits, sessionPartials sql.NullInt64
		err := rows.Scan(&r.ChunkIndex, &r.Path,
			&r.Lines, &r.Hits, &r.Misses, &r.Partials, &r.Branches, &r.Methods,
			&r.HitComplexity, &r.TotalComplexity,
			&sessionIndex, &sessionLines, &sessionHits, &sessionPartials)
		if err != nil {
			return fmt.Errorf("scan file summary: %w", err)
		}
		if sessionIndex.Valid {
			r.HasSession = true
			r.SessionIndex = sessionIndex.Int64
			r.SessionLines = sessionLines.Int64
			r.SessionHits = sessionHits.Int64
			r.SessionPartials = sessionPartials.Int64
			r.SessionMisses = r.SessionLines - r.SessionHits - r.SessionPartials
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SessionSummaryRow is one upload with its aggregated totals, ordered by
// session index.
type SessionSummaryRow struct {
	SessionIndex int64

	FileCount, Lines, Hits, Misses, Partials int64
	Branches, Methods                        int64
	HitComplexity, TotalComplexity           int64

	Upload model.RawUpload
}

// SessionSummaries returns per-upload aggregate rows in session-index order.
func (s *Store) SessionSummaries() ([]SessionSummaryRow, error) {
	query := `WITH ` + sessionIndexCTE + `,
	upload_totals AS (
		SELECT raw_upload_id,
			COUNT(DISTINCT source_file_id) AS file_count,
			COUNT(*) AS lines,
			COALESCE(SUM(CASE WHEN coverage_type = 'b'
				THEN hit_branches >= total_branches
				ELSE hits > 0 END), 0) AS hits,
			COALESCE(SUM(coverage_type = 'b' AND hit_branches > 0 AND hit_branches < total_branches), 0) AS partials,
			COALESCE(SUM(coverage_type = 'b'), 0) AS branches,
			COALESCE(SUM(coverage_type = 'm'), 0) AS methods
		FROM coverage_sample
		GROUP BY raw_upload_id
	),
	upload_complexity AS (
		SELECT raw_upload_id,
			COALESCE(SUM(hit_complexity_paths), 0) AS hit_complexity,
			COALESCE(SUM(total_complexity), 0) AS total_complexity
		FROM method_data
		GROUP BY raw_upload_id
	)
	SELECT sr.session_index,
		COALESCE(t.file_count, 0), COALESCE(t.lines, 0), COALESCE(t.hits, 0), COALESCE(t.partials, 0),
		COALESCE(t.branches, 0), COALESCE(t.methods, 0),
		COALESCE(c.hit_complexity, 0), COALESCE(c.total_complexity, 0),
		u.id, u.session_index, u.timestamp, u.raw_upload_url, u.flags, u.provider, u.build, u.name,
		u.job_name, u.ci_run_url, u.state, u.env, u.session_type, u.session_extras
	FROM raw_upload u
	JOIN session_rank sr ON sr.id = u.id
	LEFT JOIN upload_totals t ON t.raw_upload_id = u.id
	LEFT JOIN upload_complexity c ON c.raw_upload_id = u.id
	ORDER BY sr.session_index`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query session summaries: %w", err)
	}
	defer rows.Close()

	var sessions []SessionSummaryRow
	for rows.Next() {
		var r SessionSummaryRow
		var flags, extras sql.NullString
		err := rows.Scan(&r.SessionIndex,
			&r.FileCount, &r.Lines, &r.Hits, &r.Partials, &r.Branches, &r.Methods,
			&r.HitComplexity, &r.TotalComplexity,
			&r.Upload.ID, &r.Upload.SessionIndex, &r.Upload.Timestamp, &r.Upload.RawUploadURL, &flags,
			&r.Upload.Provider, &r.Upload.Build, &r.Upload.Name, &r.Upload.JobName,
			&r.Upload.CIRunURL, &r.Upload.State, &r.Upload.Env, &r.Upload.SessionType, &extras)
		if err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		r.Misses = r.Lines - r.Hits - r.Partials
		if err := decodeUploadJSON(&r.Upload, flags, extras); err != nil {
			return nil, err
		}
		sessions = append(sessions, r)
	}
	return sessions, rows.Err()
}

// ChunkLineRow is one (chunk, line, session) triple with its measurement
// values and JSON-aggregated branch, span, and label details. Rows arrive
// ordered by chunk index, line number, session index.
type ChunkLineRow struct {
	ChunkIndex   int64
	LineNo       int64
	CoverageType model.CoverageType
	SessionIndex int64

	Hits, HitBranches, TotalBranches *int64
	HitComplexity, TotalComplexity   *int64

	// JSON arrays: [[format, branch], ...], [[start_col, end_col, hits], ...]
	// and [name, ...].
	MissingBranchesJSON string
	PartialsJSON        string
	LabelsJSON          string
}

// ChunkLines streams the rows the chunks encoder consumes.
func (s *Store) ChunkLines(fn func(ChunkLineRow) error) error {
	query := `WITH ` + fileIndexCTE + `, ` + sessionIndexCTE + `
	SELECT fi.chunk_index, cs.line_no, cs.coverage_type, sr.session_index,
		cs.hits, cs.hit_branches, cs.total_branches,
		m.hit_complexity_paths, m.total_complexity,
		(SELECT json_group_array(json_array(b.branch_format, b.branch))
			FROM branches_data b
			WHERE b.raw_upload_id = cs.raw_upload_id AND b.local_sample_id = cs.local_sample_id
			  AND b.hits = 0),
		(SELECT json_group_array(json_array(sp.start_col, sp.end_col, sp.hits))
			FROM span_data sp
			WHERE sp.raw_upload_id = cs.raw_upload_id AND sp.local_sample_id = cs.local_sample_id),
		(SELECT json_group_array(ctx.name)
			FROM context_assoc ca
			JOIN context ctx ON ctx.id = ca.context_id
			WHERE ca.raw_upload_id = cs.raw_upload_id AND ca.local_sample_id = cs.local_sample_id)
	FROM coverage_sample cs
	JOIN file_index fi ON fi.id = cs.source_file_id
	JOIN session_rank sr ON sr.id = cs.raw_upload_id
	LEFT JOIN method_data m ON m.raw_upload_id = cs.raw_upload_id AND m.local_sample_id = cs.local_sample_id
	ORDER BY fi.chunk_index, cs.line_no, sr.session_index`

	rows, err := s.db.Query(query)
	if err != nil {
		return fmt.Errorf("query chunk lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r ChunkLineRow
		var coverageType string
		err := rows.Scan(&r.ChunkIndex, &r.LineNo, &coverageType, &r.SessionIndex,
			&r.Hits, &r.HitBranches, &r.TotalBranches,
			&r.HitComplexity, &r.TotalComplexity,
			&r.MissingBranchesJSON, &r.PartialsJSON, &r.LabelsJSON)
		if err != nil {
			return fmt.Errorf("scan chunk line: %w", err)
		}
		r.CoverageType = model.CoverageType(coverageType)
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// PresentSessions returns, for each chunk index, the sorted session indexes
// with at least one sample in that chunk.
func (s *Store) PresentSessions() (map[int64][]int64, error) {
	query := `WITH ` + fileIndexCTE + `, ` + sessionIndexCTE + `
	SELECT DISTINCT fi.chunk_index, sr.session_index
	FROM coverage_sample cs
	JOIN file_index fi ON fi.id = cs.source_file_id
	JOIN session_rank sr ON sr.id = cs.raw_upload_id
	ORDER BY 1, 2`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query present sessions: %w", err)
	}
	defer rows.Close()

	present := make(map[int64][]int64)
	for rows.Next() {
		var chunk, session int64
		if err := rows.Scan(&chunk, &session); err != nil {
			return nil, fmt.Errorf("scan present sessions: %w", err)
		}
		present[chunk] = append(present[chunk], session)
	}
	return present, rows.Err()
}

// ChunkCount returns the number of chunks the encoder must emit, which is
// the number of source files.
func (s *Store) ChunkCount() (int64, error) {
	var n int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM source_file").Scan(&n); err != nil {
		return 0, fmt.Errorf("count source files: %w", err)
	}
	return n, nil
}
