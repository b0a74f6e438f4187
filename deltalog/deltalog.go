// Package deltalog implements the transaction log codec: a bidirectional
// mapping between a sequence of action.Record values and a byte buffer of
// newline-delimited JSON, plus the version-filename naming scheme used
// under _delta_log/.
package deltalog

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/dot-do/deltalake-sub003/action"
	"github.com/dot-do/deltalake-sub003/errs"
)

// versionWidth is the fixed filename width used for commit and checkpoint
// version stems.
const versionWidth = 20

// maxVersion is the exclusive upper bound on versions this engine will
// format, clamped here to what fits in an int64 so the overflow check below
// is meaningful on real hardware.
const maxVersion = int64(1) << 62

// FormatVersion zero-pads v to a fixed 20-character decimal filename stem
// (without extension), e.g. FormatVersion(5) == "00000000000000000005".
func FormatVersion(v int64) (string, error) {
	if v < 0 {
		return "", errs.New(errs.Validation, "version %d is negative", v)
	}
	if v >= maxVersion {
		return "", errs.New(errs.Validation, "version %d exceeds supported range", v)
	}
	s := strconv.FormatInt(v, 10)
	if len(s) > versionWidth {
		return "", errs.New(errs.Validation, "version %d exceeds %d digits", v, versionWidth)
	}
	return strings.Repeat("0", versionWidth-len(s)) + s, nil
}

// CommitPath returns the full log path for a commit at version v, e.g.
// "t/_delta_log/00000000000000000005.json".
func CommitPath(logDir string, v int64) (string, error) {
	stem, err := FormatVersion(v)
	if err != nil {
		return "", err
	}
	return joinPath(logDir, stem+".json"), nil
}

// ParseVersion extracts the version encoded in a commit or checkpoint
// filename. It tolerates a full path (only the last segment is used) and
// strips a trailing ".json", ".checkpoint.parquet", or
// ".checkpoint.N.M.parquet" suffix.
func ParseVersion(name string) (int64, error) {
	base := name
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	stem := base
	if i := strings.Index(stem, "."); i >= 0 {
		stem = stem[:i]
	}
	if len(stem) != versionWidth {
		return 0, errs.New(errs.Validation, "malformed version filename %q", name)
	}
	for _, c := range stem {
		if c < '0' || c > '9' {
			return 0, errs.New(errs.Validation, "malformed version filename %q", name)
		}
	}
	v, err := strconv.ParseInt(stem, 10, 64)
	if err != nil {
		return 0, errs.New(errs.Validation, "malformed version filename %q: %v", name, err)
	}
	return v, nil
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}

// Serialize writes records as newline-delimited JSON, one action per line,
// in the given order; order within a commit is significant, since a
// path's final state is decided by whichever of its actions comes last.
func Serialize(records []action.Record) ([]byte, error) {
	var buf bytes.Buffer
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return nil, errs.WithOp(err, "Serialize", "", 0)
		}
		bs, err := json.Marshal(r)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err, "marshalling action %d", i)
		}
		buf.Write(bs)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// knownKeys is used to detect unknown top-level keys before decoding into
// action.Record, since encoding/json silently ignores fields that don't
// match a struct tag.
var knownKeys = map[string]bool{
	"add": true, "remove": true, "metaData": true, "protocol": true, "commitInfo": true,
}

// Parse decodes newline-delimited JSON into a sequence of action.Record
// values. Trailing newlines, blank lines, and CRLF line endings are
// tolerated; every non-empty line is validated.
func Parse(buf []byte) ([]action.Record, error) {
	text := strings.ReplaceAll(string(buf), "\r\n", "\n")
	lines := strings.Split(text, "\n")

	var out []action.Record
	for lineNo, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var raw map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, errs.Wrap(errs.MalformedData, err, "line %d is not valid JSON", lineNo+1)
		}
		for key := range raw {
			if !knownKeys[key] {
				return nil, errs.New(errs.MalformedData, "line %d: unknown top-level key %q", lineNo+1, key)
			}
		}

		var rec action.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, errs.Wrap(errs.MalformedData, err, "line %d: %v", lineNo+1, err)
		}
		if err := rec.Validate(); err != nil {
			return nil, errs.Wrap(errs.MalformedData, err, "line %d", lineNo+1)
		}
		out = append(out, rec)
	}
	return out, nil
}
