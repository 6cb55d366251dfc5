package sigma

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
)

// Tree is the compiled matcher for one rule.
type Tree struct {
	Root Branch
	Rule *Rule
}

// Match reports whether the event satisfies the rule condition.
func (t *Tree) Match(e Event) bool {
	match, applicable := t.Root.Match(e)
	return match && applicable
}

// Compile parses and lowers a YAML document in one step.
func Compile(data []byte) (*Tree, error) {
	r, err := ParseRule(data)
	if err != nil {
		return nil, err
	}
	return NewTree(r)
}

// NewTree lowers a parsed rule into its matcher tree.
func NewTree(r *Rule) (*Tree, error) {
	if r.Detection == nil {
		return nil, newCompileError(ErrMissingDetection)
	}
	expr, ok := r.Detection["condition"].(string)
	if !ok {
		// single-selection rules may omit the condition
		sel := r.Detection.Selections()
		if len(sel) != 1 {
			return nil, newCompileError(ErrMissingCondition)
		}
		for name := range sel {
			expr = name
		}
	}

	p := &parser{
		lex:       lex(expr),
		condition: expr,
		sigma:     r.Detection,
	}
	if err := p.run(); err != nil {
		return nil, newCompileError(err)
	}
	return &Tree{Root: p.result, Rule: r}, nil
}

type parser struct {
	lex       *lexer
	tokens    []Item
	previous  Item
	sigma     Detection
	condition string
	result    Branch
}

func (p *parser) run() error {
	if p.lex == nil {
		return fmt.Errorf("cannot run condition parser, lexer not initialized")
	}
	if err := p.collect(); err != nil {
		return err
	}
	b, err := newBranch(p.sigma, p.tokens, 0)
	if err != nil {
		return err
	}
	p.result = b
	return nil
}

// collect drains the lexer, validating the token sequence as it goes.
func (p *parser) collect() error {
	p.previous = Item{T: TokBegin}
	for item := range p.lex.items {
		if item.T == TokUnsupp {
			return ErrUnsupportedToken{Msg: item.Val}
		}
		if item.T == TokErr {
			return fmt.Errorf("lex error: %s", item.Val)
		}
		if !validTokenSequence(p.previous.T, item.T) {
			return ErrInvalidTokenSeq{Prev: p.previous, Next: item}
		}
		if item.T != TokLitEof {
			p.tokens = append(p.tokens, item)
		}
		p.previous = item
	}
	if p.previous.T != TokLitEof {
		return fmt.Errorf("incomplete token sequence for condition %q", p.condition)
	}
	return nil
}

func genItems(t []Item) <-chan Item {
	tx := make(chan Item, len(t))
	for _, item := range t {
		tx <- item
	}
	close(tx)
	return tx
}

// quantifier state for "N of" / "all of" constructs; count zero means all.
type quantifier struct {
	set   bool
	count int
}

// newBranch builds the matcher tree from a validated token list.
func newBranch(d Detection, t []Item, depth int) (Branch, error) {
	rx := genItems(t)

	and := make(NodeSimpleAnd, 0)
	or := make(NodeSimpleOr, 0)
	var negated bool
	var quant quantifier

	for item := range rx {
		switch item.T {
		case TokIdentifier:
			val, ok := d[item.Val]
			if !ok {
				return nil, ErrMissingConditionItem{Key: item.Val}
			}
			b, err := newRuleFromIdent(item.Val, val)
			if err != nil {
				return nil, err
			}
			and = append(and, newNodeNotIfNegated(b, negated))
			negated = false
		case TokKeywordAnd:
			// nothing to do, identifiers accumulate into the AND collector
		case TokKeywordOr:
			or = append(or, and.Reduce())
			and = make(NodeSimpleAnd, 0)
		case TokKeywordNot:
			negated = true
		case TokSepLpar:
			b, err := newBranch(d, extractGroup(rx), depth+1)
			if err != nil {
				return nil, err
			}
			and = append(and, newNodeNotIfNegated(b, negated))
			negated = false
		case TokStAll:
			quant = quantifier{set: true, count: 0}
		case TokStCount:
			n, err := strconv.Atoi(strings.TrimSuffix(item.Val, " of"))
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid quantifier %q", item.Val)
			}
			quant = quantifier{set: true, count: n}
		case TokIdentifierAll:
			if !quant.set {
				return nil, fmt.Errorf("`them` requires an `all of` or `N of` prefix")
			}
			rules, err := extractAllToRules(d)
			if err != nil {
				return nil, err
			}
			and = append(and, newNodeNotIfNegated(quantify(quant, rules), negated))
			negated = false
			quant = quantifier{}
		case TokIdentifierWithWildcard:
			if !quant.set {
				return nil, fmt.Errorf("wildcard identifier %q requires an `all of` or `N of` prefix", item.Val)
			}
			rules, err := extractWildcardIdents(d, item.Val)
			if err != nil {
				return nil, err
			}
			and = append(and, newNodeNotIfNegated(quantify(quant, rules), negated))
			negated = false
			quant = quantifier{}
		case TokSepRpar:
			return nil, fmt.Errorf("parser error, unbalanced %s", TokSepRpar)
		default:
			return nil, ErrUnsupportedToken{Msg: item.T.String()}
		}
	}
	or = append(or, and.Reduce())

	return or.Reduce(), nil
}

func quantify(q quantifier, rules []Branch) Branch {
	switch {
	case q.count == 0:
		return NodeSimpleAnd(rules).Reduce()
	case q.count == 1:
		return NodeSimpleOr(rules).Reduce()
	default:
		return NodeOfN{N: q.count, Branches: rules}
	}
}

// extractGroup consumes tokens until the parenthesis balance closes.
func extractGroup(rx <-chan Item) []Item {
	balance := 1
	group := make([]Item, 0)
	for item := range rx {
		if balance > 0 {
			group = append(group, item)
		}
		switch item.T {
		case TokSepLpar:
			balance++
		case TokSepRpar:
			balance--
			if balance == 0 {
				return group[:len(group)-1]
			}
		}
	}
	return group
}

func extractWildcardIdents(d Detection, pattern string) ([]Branch, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rules := make([]Branch, 0)
	names := make([]string, 0)
	for name := range d.Selections() {
		if g.Match(name) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("identifier pattern %q matched no selections", pattern)
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := newRuleFromIdent(name, d[name])
		if err != nil {
			return nil, err
		}
		rules = append(rules, b)
	}
	return rules, nil
}

func extractAllToRules(d Detection) ([]Branch, error) {
	sel := d.Selections()
	names := make([]string, 0, len(sel))
	for name := range sel {
		names = append(names, name)
	}
	sort.Strings(names)
	rules := make([]Branch, 0, len(names))
	for _, name := range names {
		b, err := newRuleFromIdent(name, sel[name])
		if err != nil {
			return nil, err
		}
		rules = append(rules, b)
	}
	return rules, nil
}
