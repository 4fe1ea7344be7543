package pyreport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/ohler55/ojg/oj"

	"github.com/anthropics/pyreport/internal/model"
)

// ParseReportJSON parses a report JSON, inserting one SourceFile per entry
// of the "files" object and one RawUpload per entry of the "sessions"
// object. The top-level object must contain exactly those two keys in that
// order. It returns the inserted rows keyed by chunk index and by session
// index, which seed the chunks parser.
//
// The outer structure is walked with a token decoder so that entries are
// inserted as they are parsed and the key order can be enforced; each entry's
// value is small and decoded in one piece.
func ParseReportJSON(r io.Reader, builder ReportBuilder) (map[int64]model.SourceFile, map[int64]model.RawUpload, error) {
	dec := json.NewDecoder(r)

	if err := expectDelim(dec, '{'); err != nil {
		return nil, nil, fmt.Errorf("report json is not an object: %w", err)
	}
	if err := expectKey(dec, "files"); err != nil {
		return nil, nil, err
	}
	files, err := parseFilesDict(dec, builder)
	if err != nil {
		return nil, nil, err
	}
	if err := expectKey(dec, "sessions"); err != nil {
		return nil, nil, err
	}
	sessions, err := parseSessionsDict(dec, builder)
	if err != nil {
		return nil, nil, err
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, nil, fmt.Errorf("unexpected key after sessions: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, nil, errors.New("trailing data after report json")
	}
	return files, sessions, nil
}

func expectDelim(dec *json.Decoder, want rune) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || rune(delim) != want {
		return fmt.Errorf("expected %q, found %v", want, tok)
	}
	return nil
}

func expectKey(dec *json.Decoder, want string) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("missing %q key: %w", want, err)
	}
	key, ok := tok.(string)
	if !ok || key != want {
		return fmt.Errorf("expected %q key, found %v", want, tok)
	}
	return nil
}

// parseFilesDict parses the "files" object: path → [chunks_index,
// file_totals, session_totals, diff_totals]. Only chunks_index is consumed;
// totals are recomputed from samples when needed.
func parseFilesDict(dec *json.Decoder, builder ReportBuilder) (map[int64]model.SourceFile, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, fmt.Errorf("files is not an object: %w", err)
	}

	files := make(map[int64]model.SourceFile)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read file path: %w", err)
		}
		path := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("file %q: %w", path, err)
		}
		parsed, err := oj.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("file %q: %w", path, err)
		}
		summary, ok := parsed.([]any)
		if !ok || len(summary) == 0 {
			return nil, fmt.Errorf("file %q: summary is not a non-empty array", path)
		}
		chunksIndex, ok := asInt64(summary[0])
		if !ok {
			return nil, fmt.Errorf("file %q: chunks index %v is not an integer", path, summary[0])
		}

		file, err := builder.InsertFile(path)
		if err != nil {
			return nil, err
		}
		files[chunksIndex] = file
	}
	return files, expectDelim(dec, '}')
}

// parseSessionsDict parses the "sessions" object: session index → upload
// metadata.
func parseSessionsDict(dec *json.Decoder, builder ReportBuilder) (map[int64]model.RawUpload, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, fmt.Errorf("sessions is not an object: %w", err)
	}

	sessions := make(map[int64]model.RawUpload)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read session index: %w", err)
		}
		key := tok.(string)
		index, err := strconv.ParseInt(key, 10, 64)
		if err != nil || index < 0 {
			return nil, fmt.Errorf("session index %q is not a non-negative integer", key)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("session %s: %w", key, err)
		}
		parsed, err := oj.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", key, err)
		}
		obj, ok := parsed.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("session %s is not an object", key)
		}

		upload, err := builder.InsertRawUpload(uploadFromSession(index, obj))
		if err != nil {
			return nil, err
		}
		sessions[index] = upload
	}
	return sessions, expectDelim(dec, '}')
}

// uploadFromSession maps a session object's single-letter keys onto upload
// metadata. The "t" totals are ignored: totals are derived, not stored.
// Unrecognized keys are ignored.
func uploadFromSession(index int64, session map[string]any) model.RawUpload {
	upload := model.RawUpload{SessionIndex: &index}

	if ts, ok := asInt64(session["d"]); ok {
		upload.Timestamp = &ts
	}
	upload.RawUploadURL = optionalString(session["a"])
	if flags, ok := session["f"].([]any); ok {
		upload.Flags = make([]string, 0, len(flags))
		for _, f := range flags {
			if s, ok := f.(string); ok {
				upload.Flags = append(upload.Flags, s)
			}
		}
	}
	upload.Provider = optionalString(session["c"])
	upload.Build = optionalString(session["n"])
	upload.Name = optionalString(session["N"])
	upload.JobName = optionalString(session["j"])
	upload.CIRunURL = optionalString(session["u"])
	upload.State = optionalString(session["p"])
	upload.Env = optionalString(session["e"])
	upload.SessionType = optionalString(session["st"])
	if extras, ok := session["se"].(map[string]any); ok {
		upload.SessionExtras = extras
	}
	return upload
}

func optionalString(v any) *string {
	if s, ok := v.(string); ok {
		return &s
	}
	return nil
}
