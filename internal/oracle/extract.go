package oracle

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"wildfire_crew/internal/domain"
)

var (
	tagPatternsMu sync.Mutex
	tagPatterns   = map[string]*regexp.Regexp{}
)

func tagPattern(tag string) *regexp.Regexp {
	tagPatternsMu.Lock()
	defer tagPatternsMu.Unlock()

	if re, ok := tagPatterns[tag]; ok {
		return re
	}
	re := regexp.MustCompile(`(?s)<` + regexp.QuoteMeta(tag) + `>\s*(.*?)\s*</` + regexp.QuoteMeta(tag) + `>`)
	tagPatterns[tag] = re
	return re
}

// Tag returns the trimmed body of the first <tag>...</tag> segment.
func Tag(text, tag string) (string, bool) {
	m := tagPattern(tag).FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// Extract returns every required field or an *domain.OracleParseError naming
// the first one missing.
func Extract(text string, fields ...string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		v, ok := Tag(text, f)
		if !ok {
			return nil, &domain.OracleParseError{Field: f, Raw: text}
		}
		out[f] = v
	}
	return out, nil
}

// Int parses an integer field, tolerating quotes and a trailing fraction.
func Int(text, tag string) (int, error) {
	raw, ok := Tag(text, tag)
	if !ok {
		return 0, &domain.OracleParseError{Field: tag, Raw: text}
	}
	raw = strings.Trim(raw, `'" `)
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		raw = raw[:i]
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &domain.OracleParseError{Field: tag, Raw: text}
	}
	return v, nil
}

// Unquote strips the quotes oracles tend to wrap free text answers in.
func Unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
