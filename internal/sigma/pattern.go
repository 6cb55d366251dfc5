package sigma

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
)

// TextPatternModifier selects the string comparison mode for a field.
type TextPatternModifier int

const (
	TextPatternNone TextPatternModifier = iota
	TextPatternContains
	TextPatternPrefix
	TextPatternSuffix
	TextPatternRegex
	TextPatternKeyword
)

// StringMatcher is an atomic pattern implementing literal, glob or regex
// comparison against a single field value.
type StringMatcher interface {
	StringMatch(string) bool
}

// StringMatchers joins atomic matchers with logical disjunction; pattern
// lists are lists of possibilities.
type StringMatchers []StringMatcher

// StringMatch implements StringMatcher
func (s StringMatchers) StringMatch(msg string) bool {
	for _, m := range s {
		if m.StringMatch(msg) {
			return true
		}
	}
	return false
}

// StringMatchersConj joins atomic matchers with conjunction, implementing
// the |all modifier.
type StringMatchersConj []StringMatcher

// StringMatch implements StringMatcher
func (s StringMatchersConj) StringMatch(msg string) bool {
	for _, m := range s {
		if !m.StringMatch(msg) {
			return false
		}
	}
	return true
}

// ContentPattern is a literal whole-value comparison.
type ContentPattern struct {
	Token  string
	NoCase bool
}

// StringMatch implements StringMatcher
func (c ContentPattern) StringMatch(msg string) bool {
	if c.NoCase {
		return strings.EqualFold(msg, c.Token)
	}
	return msg == c.Token
}

// PrefixPattern implements the startswith modifier.
type PrefixPattern struct {
	Token  string
	NoCase bool
}

// StringMatch implements StringMatcher
func (c PrefixPattern) StringMatch(msg string) bool {
	if c.NoCase {
		return strings.HasPrefix(strings.ToLower(msg), strings.ToLower(c.Token))
	}
	return strings.HasPrefix(msg, c.Token)
}

// SuffixPattern implements the endswith modifier.
type SuffixPattern struct {
	Token  string
	NoCase bool
}

// StringMatch implements StringMatcher
func (c SuffixPattern) StringMatch(msg string) bool {
	if c.NoCase {
		return strings.HasSuffix(strings.ToLower(msg), strings.ToLower(c.Token))
	}
	return strings.HasSuffix(msg, c.Token)
}

// ContainsPattern implements the contains modifier.
type ContainsPattern struct {
	Token  string
	NoCase bool
}

// StringMatch implements StringMatcher
func (c ContainsPattern) StringMatch(msg string) bool {
	if c.NoCase {
		return strings.Contains(strings.ToLower(msg), strings.ToLower(c.Token))
	}
	return strings.Contains(msg, c.Token)
}

// RegexPattern matches with a compiled regular expression.
type RegexPattern struct {
	Re *regexp.Regexp
}

// StringMatch implements StringMatcher
func (r RegexPattern) StringMatch(msg string) bool {
	return r.Re.MatchString(msg)
}

// GlobPattern handles values with * and ? wildcards.
type GlobPattern struct {
	Glob   glob.Glob
	NoCase bool
}

// StringMatch implements StringMatcher
func (g GlobPattern) StringMatch(msg string) bool {
	if g.NoCase {
		msg = strings.ToLower(msg)
	}
	return g.Glob.Match(msg)
}

// hasWildcard reports whether a Sigma value carries unescaped wildcards.
func hasWildcard(s string) bool {
	escaped := false
	for i := 0; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == '*' || s[i] == '?':
			return true
		}
	}
	return false
}

// compileGlob translates a Sigma wildcard value to a gobwas glob, quoting the
// characters that are special to glob but plain text in Sigma.
func compileGlob(p string, nocase bool) (glob.Glob, error) {
	var sb strings.Builder
	escaped := false
	for _, r := range p {
		switch {
		case escaped:
			switch r {
			case '*', '?':
				// escaped wildcard is a plain character
				sb.WriteString(glob.QuoteMeta(string(r)))
			case '\\':
				sb.WriteString(glob.QuoteMeta(`\`))
			default:
				// a lone backslash not followed by a wildcard stays plain
				sb.WriteString(glob.QuoteMeta(`\`))
				sb.WriteString(glob.QuoteMeta(string(r)))
			}
			escaped = false
		case r == '\\':
			escaped = true
		case r == '*' || r == '?':
			sb.WriteRune(r)
		default:
			sb.WriteString(glob.QuoteMeta(string(r)))
		}
	}
	if escaped {
		sb.WriteString(glob.QuoteMeta(`\`))
	}
	src := sb.String()
	if nocase {
		src = strings.ToLower(src)
	}
	return glob.Compile(src)
}

// NewStringMatcher builds the matcher for one field's pattern list.
// Comparison is case-insensitive unless the rule carried |cased.
func NewStringMatcher(mod TextPatternModifier, caseSensitive, all bool, patterns ...string) (StringMatcher, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("no patterns defined for matcher object")
	}
	nocase := !caseSensitive
	matchers := make([]StringMatcher, 0, len(patterns))
	for _, p := range patterns {
		switch mod {
		case TextPatternRegex:
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, ErrInvalidRegex{Pattern: p, Err: err}
			}
			matchers = append(matchers, RegexPattern{Re: re})
		case TextPatternContains, TextPatternKeyword:
			if hasWildcard(p) {
				g, err := compileGlob("*"+p+"*", nocase)
				if err != nil {
					return nil, err
				}
				matchers = append(matchers, GlobPattern{Glob: g, NoCase: nocase})
			} else {
				matchers = append(matchers, ContainsPattern{Token: unescape(p), NoCase: nocase})
			}
		case TextPatternPrefix:
			matchers = append(matchers, PrefixPattern{Token: unescape(p), NoCase: nocase})
		case TextPatternSuffix:
			matchers = append(matchers, SuffixPattern{Token: unescape(p), NoCase: nocase})
		default:
			if strings.HasPrefix(p, "/") && strings.HasSuffix(p, "/") && len(p) > 1 {
				re, err := regexp.Compile(strings.Trim(p, "/"))
				if err != nil {
					return nil, ErrInvalidRegex{Pattern: p, Err: err}
				}
				matchers = append(matchers, RegexPattern{Re: re})
			} else if hasWildcard(p) {
				g, err := compileGlob(p, nocase)
				if err != nil {
					return nil, err
				}
				matchers = append(matchers, GlobPattern{Glob: g, NoCase: nocase})
			} else {
				matchers = append(matchers, ContentPattern{Token: unescape(p), NoCase: nocase})
			}
		}
	}
	if len(matchers) == 1 {
		return matchers[0], nil
	}
	if all {
		return StringMatchersConj(matchers), nil
	}
	return StringMatchers(matchers), nil
}

// unescape resolves Sigma wildcard escapes in literal patterns. Only \*, \?
// and \\ are escape sequences; a backslash before anything else is a plain
// character.
func unescape(p string) string {
	if !strings.Contains(p, `\`) {
		return p
	}
	var sb strings.Builder
	escaped := false
	for _, r := range p {
		switch {
		case escaped:
			if r != '*' && r != '?' && r != '\\' {
				sb.WriteByte('\\')
			}
			sb.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		default:
			sb.WriteRune(r)
		}
	}
	if escaped {
		sb.WriteByte('\\')
	}
	return sb.String()
}

// NumOp is a numeric comparator selected by the lt/lte/gt/gte modifiers.
type NumOp int

const (
	NumEq NumOp = iota
	NumLt
	NumLte
	NumGt
	NumGte
)

// NumMatcher is an atomic numeric predicate.
type NumMatcher interface {
	NumMatch(float64) bool
}

// NumMatchers joins numeric matchers with disjunction.
type NumMatchers []NumMatcher

// NumMatch implements NumMatcher
func (n NumMatchers) NumMatch(val float64) bool {
	for _, m := range n {
		if m.NumMatch(val) {
			return true
		}
	}
	return false
}

// NumPattern compares a numeric field value against a constant.
type NumPattern struct {
	Op  NumOp
	Val float64
}

// NumMatch implements NumMatcher
func (n NumPattern) NumMatch(val float64) bool {
	switch n.Op {
	case NumLt:
		return val < n.Val
	case NumLte:
		return val <= n.Val
	case NumGt:
		return val > n.Val
	case NumGte:
		return val >= n.Val
	default:
		return val == n.Val
	}
}

// NewNumMatcher builds a numeric matcher from the pattern list.
func NewNumMatcher(op NumOp, patterns ...any) (NumMatcher, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("no patterns defined for matcher object")
	}
	matchers := make(NumMatchers, 0, len(patterns))
	for _, p := range patterns {
		f, ok := toFloat(p)
		if !ok {
			return nil, fmt.Errorf("numeric modifier requires numeric pattern, got %T", p)
		}
		matchers = append(matchers, NumPattern{Op: op, Val: f})
	}
	if len(matchers) == 1 {
		return matchers[0], nil
	}
	return matchers, nil
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// base64Variants expands a plain pattern per the base64 / base64offset
// modifiers. base64offset yields the three alignments an encoded substring
// can take inside a larger encoded document.
func base64Variants(p string, offset bool) []string {
	if !offset {
		return []string{base64.StdEncoding.EncodeToString([]byte(p))}
	}
	starts := [3]int{0, 2, 3}
	ends := [3]int{0, 3, 2}
	out := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		padded := strings.Repeat(" ", i) + p
		enc := base64.StdEncoding.EncodeToString([]byte(padded))
		enc = strings.TrimRight(enc, "=")
		start := starts[i]
		cut := ends[(len(p)+i)%3]
		if cut > 0 && len(enc)-cut >= start {
			enc = enc[:len(enc)-cut]
		}
		if start <= len(enc) {
			out = append(out, enc[start:])
		}
	}
	return out
}
