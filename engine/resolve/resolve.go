// Package resolve implements the workflow template reference grammar:
//
//	ref      := '@{SESSION_ID}.' path ('|' default)?
//	path     := segment ('.' segment)*
//	segment  := identifier ('[' integer ']')?
//	default  := any-text-not-containing-@{
//
// It is deliberately decoupled from the engine's session-state types: a
// Resolve call is handed a decoded JSON template tree and a Lookup callback
// that returns a step's rolling output window as raw JSON, and returns a new
// decoded tree. This keeps the resolver pure (spec: "the resolver MUST be
// pure: it reads state, returns a new structure, never mutates") and usable
// from both the engine's per-iteration input resolution and the condition
// evaluator's reference lookups.
package resolve

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// sentinel is the fixed marker every reference begins with. SESSION_ID is
// never substituted with an actual session id — it is the marker that the
// following path resolves against the current session's outputs.
const sentinel = "@{SESSION_ID}."

// Lookup returns the raw JSON array of outputs recorded for stepID (newest
// last), or ok=false if the step has never produced an output.
type Lookup func(stepID string) (raw []byte, ok bool)

// Resolve walks tmpl — a tree as produced by json.Unmarshal into
// interface{} (nil, bool, float64, string, []interface{}, or
// map[string]interface{}) — and substitutes every reference found in string
// leaves.
//
// resolved is false if any required reference (one with no default) could
// not be resolved; per spec §4.C this makes the whole result unusable ("the
// whole input is reported unresolved") and callers should discard it rather
// than use a partially-substituted tree.
func Resolve(tmpl interface{}, lookup Lookup) (result interface{}, resolved bool) {
	switch t := tmpl.(type) {
	case string:
		return resolveString(t, lookup)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			v, ok := Resolve(e, lookup)
			if !ok {
				return nil, false
			}
			out[i] = v
		}
		return out, true
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			v, ok := Resolve(e, lookup)
			if !ok {
				return nil, false
			}
			out[k] = v
		}
		return out, true
	default:
		return tmpl, true
	}
}

// refSpan locates one reference occurrence within a string.
type refSpan struct {
	start, end int
	path       string
	hasDefault bool
	def        string
}

func resolveString(s string, lookup Lookup) (interface{}, bool) {
	spans := scanRefs(s)
	if len(spans) == 0 {
		return s, true
	}
	if len(spans) == 1 && spans[0].start == 0 && spans[0].end == len(s) {
		return resolveRef(spans[0], lookup)
	}

	var b strings.Builder
	pos := 0
	for _, sp := range spans {
		b.WriteString(s[pos:sp.start])
		v, ok := resolveRef(sp, lookup)
		if !ok {
			return nil, false
		}
		b.WriteString(stringify(v))
		pos = sp.end
	}
	b.WriteString(s[pos:])
	return b.String(), true
}

// scanRefs finds every "@{SESSION_ID}." occurrence in s and extracts its
// path and optional default. It is a hand-written scanner rather than a
// regexp because the default text's only constraint ("not containing @{")
// cannot be expressed with RE2's lookahead-free syntax.
func scanRefs(s string) []refSpan {
	var spans []refSpan
	i := 0
	for {
		idx := strings.Index(s[i:], sentinel)
		if idx == -1 {
			break
		}
		start := i + idx
		j := start + len(sentinel)
		pathStart := j
		for j < len(s) && isPathChar(s[j]) {
			j++
		}
		sp := refSpan{start: start, path: s[pathStart:j], end: j}
		if j < len(s) && s[j] == '|' {
			defStart := j + 1
			k := defStart
			for k < len(s) {
				if s[k] == '@' && k+1 < len(s) && s[k+1] == '{' {
					break
				}
				k++
			}
			sp.hasDefault = true
			sp.def = s[defStart:k]
			sp.end = k
		}
		spans = append(spans, sp)
		i = sp.end
	}
	return spans
}

func isPathChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '.' || c == '[' || c == ']' || c == '-':
		return true
	default:
		return false
	}
}

// segment is one parsed path component: a name, with an optional bracketed
// index.
type segment struct {
	name     string
	hasIndex bool
	index    int
}

func splitPath(path string) []segment {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		seg := segment{name: p}
		if b := strings.IndexByte(p, '['); b >= 0 && strings.HasSuffix(p, "]") {
			if n, err := strconv.Atoi(p[b+1 : len(p)-1]); err == nil {
				seg.name = p[:b]
				seg.hasIndex = true
				seg.index = n
			}
		}
		segs = append(segs, seg)
	}
	return segs
}

// resolveRef resolves a single reference span, returning (value, true) on
// success, or the pipe default / (nil, false) on absence, per spec §4.C.
func resolveRef(sp refSpan, lookup Lookup) (interface{}, bool) {
	segs := splitPath(sp.path)
	if len(segs) == 0 {
		return fallback(sp)
	}

	raw, ok := lookup(segs[0].name)
	if !ok {
		return fallback(sp)
	}
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsArray() {
		return fallback(sp)
	}
	arr := parsed.Array()

	idx := -1
	if segs[0].hasIndex {
		idx = segs[0].index
	}
	if idx < 0 {
		idx = len(arr) + idx
	}
	if idx < 0 || idx >= len(arr) {
		return fallback(sp)
	}
	item := arr[idx]

	if len(segs) == 1 {
		return gjsonToAny(item), true
	}

	path, ok := buildGJSONPath(segs[1:])
	if !ok {
		// A negative index below the top level isn't addressable by gjson's
		// path syntax; the grammar only documents negative indexing for the
		// rolling-window segment, so this is treated as absence.
		return fallback(sp)
	}
	sub := item.Get(path)
	if !sub.Exists() {
		return fallback(sp)
	}
	return gjsonToAny(sub), true
}

func fallback(sp refSpan) (interface{}, bool) {
	if sp.hasDefault {
		return sp.def, true
	}
	return nil, false
}

func buildGJSONPath(segs []segment) (string, bool) {
	parts := make([]string, 0, len(segs)*2)
	for _, s := range segs {
		parts = append(parts, s.name)
		if s.hasIndex {
			if s.index < 0 {
				return "", false
			}
			parts = append(parts, strconv.Itoa(s.index))
		}
	}
	return strings.Join(parts, "."), true
}

func gjsonToAny(r gjson.Result) interface{} {
	var v interface{}
	_ = json.Unmarshal([]byte(r.Raw), &v)
	return v
}

// stringify renders a resolved value for substitution into a string that
// contains surrounding text or more than one reference (spec §4.C: "When
// surrounded by other text, the value is stringified (JSON-encoded for
// composite values)").
func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
