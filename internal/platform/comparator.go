package platform

import (
	"fmt"
	"strings"

	"github.com/roach88/grantlink/internal/access"
)

// Verdict is the result of comparing observed permission levels with the
// level an access type requires.
type Verdict struct {
	Match    bool
	Expected string
	Actual   string
}

// Comparator decides whether the permission levels one identity holds on an
// entity satisfy the expected access type.
type Comparator interface {
	Compare(expected access.AccessType, levels []string) Verdict
}

// BinaryComparator accepts any level. Platforms using it treat view and
// manage as mutually exclusive and either as sufficient once present.
type BinaryComparator struct{}

// Compare always matches.
func (BinaryComparator) Compare(_ access.AccessType, levels []string) Verdict {
	v := Verdict{Match: true}
	if len(levels) > 0 {
		v.Actual = strings.TrimSpace(levels[0])
	}
	return v
}

// GradedComparator requires the exact level mapped from the access type.
// Level names compare case-insensitively.
type GradedComparator struct {
	levels   []string
	expected map[access.AccessType]string
}

// NewGradedComparator validates that every expected level is one of levels.
func NewGradedComparator(levels []string, expected map[access.AccessType]string) (*GradedComparator, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("graded comparator needs at least one level")
	}
	c := &GradedComparator{levels: levels, expected: expected}
	for _, at := range []access.AccessType{access.AccessView, access.AccessManage} {
		want, ok := expected[at]
		if !ok {
			return nil, fmt.Errorf("graded comparator has no level for %q", at)
		}
		if c.Rank(want) < 0 {
			return nil, fmt.Errorf("expected level %q for %q is not a known level", want, at)
		}
	}
	return c, nil
}

// Compare matches when the expected level is among levels. Otherwise Actual
// is the first level listed.
func (c *GradedComparator) Compare(expected access.AccessType, levels []string) Verdict {
	v := Verdict{Expected: c.expected[expected]}
	for _, l := range levels {
		if strings.EqualFold(strings.TrimSpace(l), v.Expected) {
			v.Match = true
			v.Actual = v.Expected
			return v
		}
	}
	if len(levels) > 0 {
		v.Actual = c.canonical(levels[0])
	}
	return v
}

// Rank returns the position of level from least privileged, or -1.
func (c *GradedComparator) Rank(level string) int {
	level = strings.TrimSpace(level)
	for i, l := range c.levels {
		if strings.EqualFold(l, level) {
			return i
		}
	}
	return -1
}

// Levels returns the ordered levels.
func (c *GradedComparator) Levels() []string {
	out := make([]string, len(c.levels))
	copy(out, c.levels)
	return out
}

func (c *GradedComparator) canonical(level string) string {
	if i := c.Rank(level); i >= 0 {
		return c.levels[i]
	}
	return strings.TrimSpace(level)
}
