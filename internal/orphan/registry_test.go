package orphan

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkOrphanAndResolve(t *testing.T) {
	r := New()

	r.MarkOrphan("child1", []string{"parentA", "parentB"})
	r.MarkOrphan("child2", []string{"parentA"})

	assert.True(t, r.Pending("child1"))
	assert.True(t, r.Pending("child2"))

	// resolving parentA alone should not free child1 (still needs parentB)
	ready := r.Resolve("parentA")
	sort.Strings(ready)
	assert.Equal(t, []string{"child2"}, ready)
	assert.True(t, r.Pending("child1"))
	assert.False(t, r.Pending("child2"))

	ready = r.Resolve("parentB")
	assert.Equal(t, []string{"child1"}, ready)
	assert.False(t, r.Pending("child1"))

	assert.Equal(t, 0, r.Len())
}

func TestResolveUnknownParentIsNoop(t *testing.T) {
	r := New()
	assert.Nil(t, r.Resolve("nobody-waits-on-me"))
}

func TestResolveIsSymmetricWithOrphansIndex(t *testing.T) {
	r := New()
	r.MarkOrphan("child", []string{"p1", "p2", "p3"})

	for _, p := range []string{"p1", "p2", "p3"} {
		children, ok := r.orphans[p]
		assert.True(t, ok)
		_, has := children["child"]
		assert.True(t, has)
	}

	r.Resolve("p1")
	r.Resolve("p2")
	ready := r.Resolve("p3")
	assert.Equal(t, []string{"child"}, ready)

	for _, p := range []string{"p1", "p2", "p3"} {
		_, ok := r.orphans[p]
		assert.False(t, ok)
	}
}
