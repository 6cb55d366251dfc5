package sigma

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Level is a Sigma rule severity.
type Level string

const (
	LevelInformational Level = "informational"
	LevelLow           Level = "low"
	LevelMedium        Level = "medium"
	LevelHigh          Level = "high"
	LevelCritical      Level = "critical"
)

// SeverityID maps a Sigma level to the OCSF severity_id scale.
func (l Level) SeverityID() int64 {
	switch l {
	case LevelInformational:
		return 1
	case LevelLow:
		return 2
	case LevelMedium:
		return 3
	case LevelHigh:
		return 4
	case LevelCritical:
		return 5
	default:
		return 1
	}
}

func (l Level) valid() bool {
	switch l {
	case "", LevelInformational, LevelLow, LevelMedium, LevelHigh, LevelCritical:
		return true
	}
	return false
}

// Logsource selects the event streams a rule applies to.
type Logsource struct {
	Category   string `yaml:"category" json:"category,omitempty"`
	Product    string `yaml:"product" json:"product,omitempty"`
	Service    string `yaml:"service" json:"service,omitempty"`
	Definition string `yaml:"definition" json:"definition,omitempty"`
}

// Matches reports whether the rule's logsource gates an event with the given
// taxonomy values. Empty rule keys match everything; comparison is
// case-insensitive.
func (l Logsource) Matches(category, product, service string) bool {
	match := func(want, got string) bool {
		return want == "" || strings.EqualFold(want, got)
	}
	return match(l.Category, category) &&
		match(l.Product, product) &&
		match(l.Service, service)
}

// Fingerprint renders the logsource as a stable dispatch key.
func (l Logsource) Fingerprint() string {
	return strings.ToLower(l.Category) + "/" + strings.ToLower(l.Product) + "/" + strings.ToLower(l.Service)
}

// Detection holds the selection identifiers and the condition expression.
type Detection map[string]any

// Selections returns the detection map without the condition entry.
func (d Detection) Selections() map[string]any {
	tx := make(map[string]any, len(d))
	for k, v := range d {
		if k != "condition" {
			tx[k] = v
		}
	}
	return tx
}

// Rule is the parsed form of a Sigma YAML document.
type Rule struct {
	ID             string    `yaml:"id" json:"id"`
	Title          string    `yaml:"title" json:"title"`
	Description    string    `yaml:"description" json:"description"`
	Author         string    `yaml:"author" json:"author,omitempty"`
	Status         string    `yaml:"status" json:"status,omitempty"`
	References     []string  `yaml:"references" json:"references,omitempty"`
	Falsepositives []string  `yaml:"falsepositives" json:"falsepositives,omitempty"`
	Level          Level     `yaml:"level" json:"level"`
	Tags           []string  `yaml:"tags" json:"tags,omitempty"`
	Logsource      Logsource `yaml:"logsource" json:"logsource"`
	Detection      Detection `yaml:"detection" json:"-"`

	// ContentHash is the SHA-256 of the canonical serialized rule. It seeds
	// the rule id when the YAML omits one.
	ContentHash string `yaml:"-" json:"content_hash"`
	// Raw is the original YAML document as uploaded.
	Raw []byte `yaml:"-" json:"-"`
}

// ParseRule decodes a YAML document into a Rule, computing the content hash
// and filling in a deterministic id when absent.
func ParseRule(data []byte) (*Rule, error) {
	var r Rule
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, newCompileError(err)
	}
	if !r.Level.valid() {
		return nil, newCompileError(fmt.Errorf("invalid level %q", r.Level))
	}
	if r.Detection == nil {
		return nil, newCompileError(ErrMissingDetection)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, newCompileError(err)
	}
	sum := sha256.Sum256(canonicalize(doc))
	r.ContentHash = hex.EncodeToString(sum[:])

	if r.ID == "" {
		r.ID = uuid.NewSHA1(uuid.NameSpaceOID, sum[:]).String()
	}
	r.Raw = append([]byte(nil), data...)
	return &r, nil
}

// canonicalize renders a decoded YAML document with sorted map keys so the
// content hash is stable across key order and formatting differences.
func canonicalize(doc any) []byte {
	var sb strings.Builder
	writeCanonical(&sb, doc)
	return []byte(sb.String())
}

func writeCanonical(sb *strings.Builder, doc any) {
	switch t := doc.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(sb, "%q:", k)
			writeCanonical(sb, t[k])
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, e)
		}
		sb.WriteByte(']')
	case string:
		fmt.Fprintf(sb, "%q", t)
	case nil:
		sb.WriteString("null")
	default:
		fmt.Fprintf(sb, "%v", t)
	}
}
