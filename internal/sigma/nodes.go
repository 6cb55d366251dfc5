package sigma

// NodeSimpleAnd is a list of matchers joined by logical conjunction.
type NodeSimpleAnd []Branch

// Match implements Matcher
func (n NodeSimpleAnd) Match(e Event) (bool, bool) {
	for _, b := range n {
		match, applicable := b.Match(e)
		if !match || !applicable {
			return match, applicable
		}
	}
	return true, true
}

// Reduce strips the slice when one or two elements suffice.
func (n NodeSimpleAnd) Reduce() Branch {
	if len(n) == 1 {
		return n[0]
	}
	if len(n) == 2 {
		return &NodeAnd{L: n[0], R: n[1]}
	}
	return n
}

// NodeSimpleOr is a list of matchers joined by logical disjunction.
type NodeSimpleOr []Branch

// Match implements Matcher
func (n NodeSimpleOr) Match(e Event) (bool, bool) {
	var oneApplicable bool
	for _, b := range n {
		match, applicable := b.Match(e)
		if match {
			return true, true
		}
		if applicable {
			oneApplicable = true
		}
	}
	return false, oneApplicable
}

// Reduce strips the slice when one or two elements suffice.
func (n NodeSimpleOr) Reduce() Branch {
	if len(n) == 1 {
		return n[0]
	}
	if len(n) == 2 {
		return &NodeOr{L: n[0], R: n[1]}
	}
	return n
}

// NodeNot negates a branch. The inner predicate evaluates to false over a
// missing field, so the negation matches; explicit null handling goes
// through the exists modifier instead.
type NodeNot struct {
	B Branch
}

// Match implements Matcher
func (n NodeNot) Match(e Event) (bool, bool) {
	match, _ := n.B.Match(e)
	return !match, true
}

// NodeAnd is a binary conjunction node.
type NodeAnd struct {
	L, R Branch
}

// Match implements Matcher
func (n NodeAnd) Match(e Event) (bool, bool) {
	lMatch, lApplicable := n.L.Match(e)
	if !lMatch {
		return false, lApplicable
	}
	rMatch, rApplicable := n.R.Match(e)
	return lMatch && rMatch, lApplicable && rApplicable
}

// NodeOr is a binary disjunction node.
type NodeOr struct {
	L, R Branch
}

// Match implements Matcher
func (n NodeOr) Match(e Event) (bool, bool) {
	lMatch, lApplicable := n.L.Match(e)
	if lMatch {
		return true, lApplicable
	}
	rMatch, rApplicable := n.R.Match(e)
	return lMatch || rMatch, lApplicable || rApplicable
}

// NodeOfN matches when at least N of its branches match. It implements the
// "N of pattern" quantifier.
type NodeOfN struct {
	N        int
	Branches []Branch
}

// Match implements Matcher
func (n NodeOfN) Match(e Event) (bool, bool) {
	var hits int
	var oneApplicable bool
	for _, b := range n.Branches {
		match, applicable := b.Match(e)
		if applicable {
			oneApplicable = true
		}
		if match {
			hits++
			if hits >= n.N {
				return true, true
			}
		}
	}
	return false, oneApplicable
}

func newNodeNotIfNegated(b Branch, negated bool) Branch {
	if negated {
		return &NodeNot{B: b}
	}
	return b
}
