package sigma

import (
	"fmt"
	"sort"
	"strings"
)

type identType int

const (
	identErr identType = iota
	identSelection
	identKeyword
)

func (i identType) String() string {
	switch i {
	case identKeyword:
		return "KEYWORD"
	case identSelection:
		return "SELECTION"
	default:
		return "UNK"
	}
}

func checkIdentType(data any) identType {
	switch v := data.(type) {
	case map[string]any, Detection:
		return identSelection
	case []any:
		for _, item := range v {
			switch item.(type) {
			case map[string]any, Detection:
			default:
				return identKeyword
			}
		}
		return identSelection
	default:
		return identKeyword
	}
}

func newRuleFromIdent(name string, data any) (Branch, error) {
	switch checkIdentType(data) {
	case identKeyword:
		return NewKeyword(name, data)
	case identSelection:
		return NewSelectionBranch(name, data)
	}
	return nil, ErrInvalidSelection{Name: name, Msg: "unknown identifier kind"}
}

// fieldModifiers is the parsed view of a field key like cmd|contains|all.
type fieldModifiers struct {
	mode    TextPatternModifier
	modeSet bool
	all     bool
	cased   bool
	base64  bool
	b64off  bool
	exists  bool
	numOp   NumOp
	numSet  bool
}

// parseFieldKey splits a selection key into path and modifier chain,
// rejecting modifiers outside the supported set.
func parseFieldKey(key string) (string, fieldModifiers, error) {
	var mods fieldModifiers
	parts := strings.Split(key, "|")
	path := parts[0]
	for _, raw := range parts[1:] {
		switch raw {
		case "contains":
			mods.mode, mods.modeSet = TextPatternContains, true
		case "startswith":
			mods.mode, mods.modeSet = TextPatternPrefix, true
		case "endswith":
			mods.mode, mods.modeSet = TextPatternSuffix, true
		case "re":
			mods.mode, mods.modeSet = TextPatternRegex, true
		case "all":
			mods.all = true
		case "cased":
			mods.cased = true
		case "base64":
			mods.base64 = true
		case "base64offset":
			mods.b64off = true
		case "exists":
			mods.exists = true
		case "lt":
			mods.numOp, mods.numSet = NumLt, true
		case "lte":
			mods.numOp, mods.numSet = NumLte, true
		case "gt":
			mods.numOp, mods.numSet = NumGt, true
		case "gte":
			mods.numOp, mods.numSet = NumGte, true
		default:
			return "", mods, ErrUnsupportedModifier{Field: path, Modifier: raw}
		}
	}
	if mods.numSet && mods.modeSet {
		return "", mods, ErrInvalidSelection{Name: key, Msg: "numeric and string modifiers do not compose"}
	}
	return path, mods, nil
}

// SelectionItem is one field predicate inside a selection.
type SelectionItem struct {
	Path   string
	Str    StringMatcher
	Num    NumMatcher
	Exists *bool
	Null   bool
}

// Selection is a conjunction of field predicates; the compiled form of one
// selection identifier.
type Selection struct {
	Items []SelectionItem
}

// Match implements Matcher
func (s Selection) Match(e Event) (bool, bool) {
	for _, item := range s.Items {
		val, ok := e.Select(item.Path)
		switch {
		case item.Exists != nil:
			if ok != *item.Exists {
				return false, true
			}
		case !ok:
			// a predicate over an absent field is not applicable
			return false, false
		case item.Null:
			if val != nil {
				return false, true
			}
		case item.Num != nil:
			if !matchNum(item.Num, val) {
				return false, true
			}
		default:
			if !matchStr(item.Str, val) {
				return false, true
			}
		}
	}
	return true, true
}

func matchNum(m NumMatcher, val any) bool {
	switch t := val.(type) {
	case []any:
		for _, e := range t {
			if f, ok := toFloat(e); ok && m.NumMatch(f) {
				return true
			}
		}
		return false
	default:
		f, ok := toFloat(val)
		return ok && m.NumMatch(f)
	}
}

func matchStr(m StringMatcher, val any) bool {
	switch t := val.(type) {
	case []any:
		for _, e := range t {
			if s, ok := stringify(e); ok && m.StringMatch(s) {
				return true
			}
		}
		return false
	default:
		s, ok := stringify(val)
		return ok && m.StringMatch(s)
	}
}

func stringify(val any) (string, bool) {
	switch t := val.(type) {
	case string:
		return t, true
	case bool:
		return fmt.Sprintf("%t", t), true
	case nil:
		return "", false
	case int, int64, uint64, float32:
		return fmt.Sprintf("%v", t), true
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t)), true
		}
		return fmt.Sprintf("%v", t), true
	default:
		return "", false
	}
}

// newSelectionItem lowers one field mapping into a predicate.
func newSelectionItem(key string, pattern any) (SelectionItem, error) {
	path, mods, err := parseFieldKey(key)
	if err != nil {
		return SelectionItem{}, err
	}
	item := SelectionItem{Path: path}

	if mods.exists {
		want, ok := pattern.(bool)
		if !ok {
			return SelectionItem{}, ErrInvalidSelection{Name: key, Msg: "exists modifier requires a boolean"}
		}
		item.Exists = &want
		return item, nil
	}
	if pattern == nil {
		item.Null = true
		return item, nil
	}

	patterns := flattenPatterns(pattern)
	if len(patterns) == 0 {
		return SelectionItem{}, ErrInvalidSelection{Name: key, Msg: "empty pattern list"}
	}

	if mods.numSet {
		num, err := NewNumMatcher(mods.numOp, patterns...)
		if err != nil {
			return SelectionItem{}, ErrInvalidSelection{Name: key, Msg: err.Error()}
		}
		item.Num = num
		return item, nil
	}

	texts := make([]string, 0, len(patterns))
	for _, p := range patterns {
		s, ok := stringify(p)
		if !ok {
			return SelectionItem{}, ErrInvalidSelection{Name: key, Msg: fmt.Sprintf("unsupported pattern type %T", p)}
		}
		if mods.base64 || mods.b64off {
			texts = append(texts, base64Variants(s, mods.b64off)...)
		} else {
			texts = append(texts, s)
		}
	}

	mode := mods.mode
	if (mods.base64 || mods.b64off) && !mods.modeSet {
		// an encoded token appears mid-document; substring semantics apply
		mode = TextPatternContains
	}

	str, err := NewStringMatcher(mode, mods.cased, mods.all, texts...)
	if err != nil {
		return SelectionItem{}, err
	}
	item.Str = str
	return item, nil
}

func flattenPatterns(pattern any) []any {
	switch t := pattern.(type) {
	case []any:
		return t
	default:
		return []any{pattern}
	}
}

func newSelectionFromMap(name string, expr map[string]any) (*Selection, error) {
	sel := &Selection{Items: make([]SelectionItem, 0, len(expr))}
	// iterate in stable order so compilation is deterministic
	keys := make([]string, 0, len(expr))
	for k := range expr {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		item, err := newSelectionItem(key, expr[key])
		if err != nil {
			return nil, err
		}
		sel.Items = append(sel.Items, item)
	}
	return sel, nil
}

// NewSelectionBranch lowers a selection identifier: a map is a conjunction of
// field predicates, a list of maps is their disjunction.
func NewSelectionBranch(name string, expr any) (Branch, error) {
	switch v := expr.(type) {
	case []any:
		selections := make(NodeSimpleOr, 0, len(v))
		for _, item := range v {
			b, err := NewSelectionBranch(name, item)
			if err != nil {
				return nil, err
			}
			selections = append(selections, b)
		}
		return selections.Reduce(), nil
	case map[string]any:
		return newSelectionFromMap(name, v)
	case Detection:
		return newSelectionFromMap(name, v)
	default:
		return nil, ErrInvalidSelection{Name: name, Msg: fmt.Sprintf("unsupported selection container %T", expr)}
	}
}

// Keyword matches a pattern list against the event's scalar leaves.
type Keyword struct {
	S StringMatcher
}

// Match implements Matcher
func (k Keyword) Match(e Event) (bool, bool) {
	msgs, ok := e.Keywords()
	if !ok {
		return false, false
	}
	for _, m := range msgs {
		if k.S.StringMatch(m) {
			return true, true
		}
	}
	return false, true
}

// NewKeyword lowers a keyword identifier (scalar or list of scalars).
func NewKeyword(name string, expr any) (Branch, error) {
	patterns := flattenPatterns(expr)
	texts := make([]string, 0, len(patterns))
	for _, p := range patterns {
		s, ok := stringify(p)
		if !ok {
			return nil, ErrInvalidSelection{Name: name, Msg: fmt.Sprintf("unsupported keyword type %T", p)}
		}
		texts = append(texts, s)
	}
	m, err := NewStringMatcher(TextPatternKeyword, false, false, texts...)
	if err != nil {
		return nil, err
	}
	return &Keyword{S: m}, nil
}
