package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grantlink/internal/access"
)

func searchConsoleComparator(t *testing.T) *GradedComparator {
	t.Helper()
	c, err := NewGradedComparator(
		[]string{"unverified", "restricted", "full", "owner"},
		map[access.AccessType]string{access.AccessView: "restricted", access.AccessManage: "owner"},
	)
	require.NoError(t, err)
	return c
}

func TestBinaryComparator(t *testing.T) {
	c := BinaryComparator{}

	v := c.Compare(access.AccessManage, []string{"ADVERTISE"})
	assert.True(t, v.Match)
	assert.Equal(t, "ADVERTISE", v.Actual)

	v = c.Compare(access.AccessView, []string{"MANAGE"})
	assert.True(t, v.Match, "either level is enough once present")

	v = c.Compare(access.AccessView, nil)
	assert.True(t, v.Match)
	assert.Empty(t, v.Actual)
}

func TestGradedComparatorExactMatch(t *testing.T) {
	c := searchConsoleComparator(t)

	v := c.Compare(access.AccessManage, []string{"owner"})
	assert.Equal(t, Verdict{Match: true, Expected: "owner", Actual: "owner"}, v)

	v = c.Compare(access.AccessView, []string{" Restricted "})
	assert.True(t, v.Match)
	assert.Equal(t, "restricted", v.Actual)
}

func TestGradedComparatorMismatch(t *testing.T) {
	c := searchConsoleComparator(t)

	v := c.Compare(access.AccessManage, []string{"restricted"})
	assert.Equal(t, Verdict{Match: false, Expected: "owner", Actual: "restricted"}, v)

	// A higher level than expected is still not an exact match.
	v = c.Compare(access.AccessView, []string{"OWNER"})
	assert.False(t, v.Match)
	assert.Equal(t, "owner", v.Actual)

	v = c.Compare(access.AccessView, []string{"siteGuest"})
	assert.False(t, v.Match)
	assert.Equal(t, "siteGuest", v.Actual)

	v = c.Compare(access.AccessView, nil)
	assert.False(t, v.Match)
	assert.Empty(t, v.Actual)
}

func TestGradedComparatorRank(t *testing.T) {
	c := searchConsoleComparator(t)

	assert.Equal(t, 0, c.Rank("unverified"))
	assert.Equal(t, 3, c.Rank("Owner"))
	assert.Equal(t, -1, c.Rank("admin"))
	assert.Equal(t, []string{"unverified", "restricted", "full", "owner"}, c.Levels())
}

func TestNewGradedComparatorValidation(t *testing.T) {
	_, err := NewGradedComparator(nil, nil)
	assert.Error(t, err)

	_, err = NewGradedComparator([]string{"a", "b"}, map[access.AccessType]string{access.AccessView: "a"})
	assert.Error(t, err)

	_, err = NewGradedComparator([]string{"a", "b"}, map[access.AccessType]string{access.AccessView: "a", access.AccessManage: "c"})
	assert.Error(t, err)
}
