package pyreport

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/anthropics/pyreport/internal/model"
)

// ErrMixedBranchNotations is returned when one missing-branches list mixes
// the Line, Condition, and BlockAndBranch notations.
var ErrMixedBranchNotations = errors.New("mixed missing-branch notations")

// Numbers above the uint32 range saturate instead of erroring. That mirrors
// what upstream consumers tolerate today; do not silently make it stricter.
// Negative numbers are invalid, the wire format only carries unsigned values.
func saturateUint32(v any) (uint32, bool) {
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, false
		}
		if n > math.MaxUint32 {
			return math.MaxUint32, true
		}
		return uint32(n), true
	case float64:
		if n < 0 {
			return 0, false
		}
		if n > math.MaxUint32 {
			return math.MaxUint32, true
		}
		return uint32(n), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func parseUint32Saturating(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return math.MaxUint32, nil
		}
		return 0, err
	}
	if n > math.MaxUint32 {
		return math.MaxUint32, nil
	}
	return uint32(n), nil
}

// decodeCoverage decodes the three wire forms of a coverage value: an
// unsigned integer, a "covered/total" string, or the literal true.
func decodeCoverage(v any) (Coverage, error) {
	switch c := v.(type) {
	case bool:
		if !c {
			return Coverage{}, errors.New("false is not a valid coverage value")
		}
		return PartialCoverage(), nil
	case int64, float64:
		n, ok := saturateUint32(c)
		if !ok {
			return Coverage{}, fmt.Errorf("invalid coverage value %v", v)
		}
		return HitCount(n), nil
	case string:
		covered, total, ok := strings.Cut(c, "/")
		if !ok {
			return Coverage{}, fmt.Errorf("coverage string %q is not a fraction", c)
		}
		cov, err := parseUint32Saturating(covered)
		if err != nil {
			return Coverage{}, fmt.Errorf("coverage fraction %q: %w", c, err)
		}
		tot, err := parseUint32Saturating(total)
		if err != nil {
			return Coverage{}, fmt.Errorf("coverage fraction %q: %w", c, err)
		}
		return BranchesTaken(cov, tot), nil
	default:
		return Coverage{}, fmt.Errorf("invalid coverage value %v", v)
	}
}

// decodeCoverageType decodes a declared coverage type. Absent or null means
// a line measurement.
func decodeCoverageType(v any) (model.CoverageType, error) {
	switch t := v.(type) {
	case nil:
		return model.CoverageTypeLine, nil
	case string:
		switch t {
		case "line":
			return model.CoverageTypeLine, nil
		case "b", "branch":
			return model.CoverageTypeBranch, nil
		case "m", "method":
			return model.CoverageTypeMethod, nil
		}
	}
	return "", fmt.Errorf("invalid coverage type %v", v)
}

// decodeComplexity decodes either a bare total or a [covered, total] pair.
func decodeComplexity(v any) (*Complexity, error) {
	switch c := v.(type) {
	case nil:
		return nil, nil
	case int64, float64:
		total, ok := saturateUint32(c)
		if !ok {
			return nil, fmt.Errorf("invalid complexity %v", v)
		}
		return &Complexity{Total: total}, nil
	case []any:
		if len(c) != 2 {
			return nil, fmt.Errorf("complexity pair has %d elements", len(c))
		}
		covered, ok := saturateUint32(c[0])
		if !ok {
			return nil, fmt.Errorf("invalid complexity %v", v)
		}
		total, ok := saturateUint32(c[1])
		if !ok {
			return nil, fmt.Errorf("invalid complexity %v", v)
		}
		return &Complexity{Covered: &covered, Total: total}, nil
	default:
		return nil, fmt.Errorf("invalid complexity %v", v)
	}
}

// decodeMissingBranch classifies one branch token structurally, trying the
// notations in a fixed order: a bare number is a Line, "block:branch" with a
// numeric right side is a BlockAndBranch, "n:jump" is a Condition.
func decodeMissingBranch(token string) (MissingBranch, error) {
	left, right, hasColon := strings.Cut(token, ":")
	if !hasColon {
		line, err := parseUint32Saturating(left)
		if err != nil {
			return MissingBranch{}, fmt.Errorf("invalid missing branch %q", token)
		}
		return MissingBranch{Kind: MissingBranchLine, Line: line}, nil
	}

	n, err := parseUint32Saturating(left)
	if err != nil {
		return MissingBranch{}, fmt.Errorf("invalid missing branch %q", token)
	}
	if branch, err := parseUint32Saturating(right); err == nil {
		return MissingBranch{Kind: MissingBranchBlockAndBranch, Block: n, Branch: branch}, nil
	}
	if right == "jump" {
		return MissingBranch{Kind: MissingBranchCondition, Condition: n, Jump: true}, nil
	}
	return MissingBranch{}, fmt.Errorf("invalid missing branch %q", token)
}

// decodeMissingBranches decodes a missing-branches list. Every element must
// use the same notation; a list that mixes notations fails as a whole.
func decodeMissingBranches(v any) ([]MissingBranch, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("missing branches is not a list: %v", v)
	}

	branches := make([]MissingBranch, 0, len(list))
	for _, el := range list {
		token, ok := el.(string)
		if !ok {
			return nil, fmt.Errorf("missing branch is not a string: %v", el)
		}
		mb, err := decodeMissingBranch(token)
		if err != nil {
			return nil, err
		}
		if len(branches) > 0 && branches[0].Kind != mb.Kind {
			return nil, fmt.Errorf("%w: %q", ErrMixedBranchNotations, token)
		}
		branches = append(branches, mb)
	}
	return branches, nil
}

// decodePartials decodes a [[start_col, end_col, coverage], ...] list.
func decodePartials(v any) ([]Partial, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("partials is not a list: %v", v)
	}

	partials := make([]Partial, 0, len(list))
	for _, el := range list {
		span, ok := el.([]any)
		if !ok || len(span) != 3 {
			return nil, fmt.Errorf("invalid partial span %v", el)
		}
		var p Partial
		var err error
		if p.StartCol, err = optionalInt(span[0]); err != nil {
			return nil, fmt.Errorf("invalid partial span %v", el)
		}
		if p.EndCol, err = optionalInt(span[1]); err != nil {
			return nil, fmt.Errorf("invalid partial span %v", el)
		}
		cov, err := decodeCoverage(span[2])
		if err != nil {
			return nil, fmt.Errorf("invalid partial span %v: %w", el, err)
		}
		p.Hits = partialHits(cov)
		partials = append(partials, p)
	}
	return partials, nil
}

func partialHits(cov Coverage) int64 {
	switch cov.Kind {
	case CoverageHitCount:
		return int64(cov.Hits)
	case CoverageBranchesTaken:
		return int64(cov.Covered)
	default:
		return 1
	}
}

func optionalInt(v any) (*int64, error) {
	if v == nil {
		return nil, nil
	}
	n, ok := asInt64(v)
	if !ok {
		return nil, fmt.Errorf("not an integer: %v", v)
	}
	return &n, nil
}

// decodeLineSession decodes one [session_id, coverage, branches?, partials?,
// complexity?] element.
func decodeLineSession(v any) (LineSession, error) {
	arr, ok := v.([]any)
	if !ok || len(arr) < 2 {
		return LineSession{}, fmt.Errorf("invalid line session %v", v)
	}

	var s LineSession
	if s.SessionID, ok = asInt64(arr[0]); !ok {
		return LineSession{}, fmt.Errorf("invalid session id %v", arr[0])
	}
	var err error
	if s.Coverage, err = decodeCoverage(arr[1]); err != nil {
		return LineSession{}, err
	}
	if len(arr) > 2 {
		if s.MissingBranches, err = decodeMissingBranches(arr[2]); err != nil {
			return LineSession{}, err
		}
	}
	if len(arr) > 3 {
		if s.Partials, err = decodePartials(arr[3]); err != nil {
			return LineSession{}, err
		}
	}
	if len(arr) > 4 {
		if s.Complexity, err = decodeComplexity(arr[4]); err != nil {
			return LineSession{}, err
		}
	}
	return s, nil
}

// decodeLineRecord decodes a full line record and normalizes its coverage
// and type pairs.
func decodeLineRecord(v any) (*ReportLine, error) {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return nil, fmt.Errorf("line record is not a non-empty array")
	}

	line := &ReportLine{}
	var err error
	if line.Coverage, err = decodeCoverage(arr[0]); err != nil {
		return nil, err
	}
	declaredType := model.CoverageTypeLine
	if len(arr) > 1 {
		if declaredType, err = decodeCoverageType(arr[1]); err != nil {
			return nil, err
		}
	}
	if len(arr) > 2 && arr[2] != nil {
		sessions, ok := arr[2].([]any)
		if !ok {
			return nil, fmt.Errorf("line sessions is not a list: %v", arr[2])
		}
		line.Sessions = make([]LineSession, 0, len(sessions))
		for _, el := range sessions {
			s, err := decodeLineSession(el)
			if err != nil {
				return nil, err
			}
			line.Sessions = append(line.Sessions, s)
		}
	}
	// arr[3] is "messages" and arr[4] line-level complexity; neither adds
	// information that model assembly uses.
	if len(arr) > 5 && arr[5] != nil {
		if line.Labels, err = decodeDatapoints(arr[5]); err != nil {
			return nil, err
		}
	}

	line.Coverage, line.Type = Normalize(line.Coverage, declaredType)
	// Sessions normalize against the corrected line type, not the declared
	// one, so a line whose type shifted drags its sessions with it.
	for i := range line.Sessions {
		line.Sessions[i].Coverage, _ = Normalize(line.Sessions[i].Coverage, line.Type)
	}
	return line, nil
}

// decodeDatapoints extracts the labels of each [session_id, coverage, type?,
// labels?] datapoint, keyed by session. The coverage and type fields repeat
// data the sessions element already carries.
func decodeDatapoints(v any) (map[int64][]string, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("datapoints is not a list: %v", v)
	}

	labels := make(map[int64][]string)
	for _, el := range list {
		dp, ok := el.([]any)
		if !ok || len(dp) < 2 {
			return nil, fmt.Errorf("invalid datapoint %v", el)
		}
		sessionID, ok := asInt64(dp[0])
		if !ok {
			return nil, fmt.Errorf("invalid datapoint session id %v", dp[0])
		}
		if len(dp) > 3 && dp[3] != nil {
			rawLabels, ok := dp[3].([]any)
			if !ok {
				return nil, fmt.Errorf("datapoint labels is not a list: %v", dp[3])
			}
			for _, raw := range rawLabels {
				label, err := labelToken(raw)
				if err != nil {
					return nil, err
				}
				labels[sessionID] = append(labels[sessionID], label)
			}
		}
	}
	return labels, nil
}

// labelToken stringifies a label reference; labels appear as either names or
// numeric IDs into the label index.
func labelToken(v any) (string, error) {
	switch l := v.(type) {
	case string:
		return l, nil
	case int64:
		return strconv.FormatInt(l, 10), nil
	case float64:
		return strconv.FormatInt(int64(l), 10), nil
	default:
		return "", fmt.Errorf("invalid label %v", v)
	}
}
