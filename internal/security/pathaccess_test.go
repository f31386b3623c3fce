package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContainsPath(t *testing.T) {
	assert.True(t, ContainsPath("/export", "/export"))
	assert.True(t, ContainsPath("/export", "/export/a/b.txt"))
	assert.False(t, ContainsPath("/export", "/other/a.txt"))
	assert.False(t, ContainsPath("/export", "/exportXXX/a.txt"))
}

func TestContainsPath_RejectsDotDotEscape(t *testing.T) {
	assert.False(t, ContainsPath("/export/sub", "/export/sub/../../etc/passwd"))
}

func TestMatchExport_PrefersLongestMatchingRoot(t *testing.T) {
	exports := []Export{
		{Name: "root", Path: "/export"},
		{Name: "nested", Path: "/export/nested"},
	}
	got := MatchExport(exports, "/export/nested/file.txt")
	assert.Equal(t, "nested", got.Name)
}

func TestMatchExport_NoneMatches(t *testing.T) {
	exports := []Export{{Name: "root", Path: "/export"}}
	assert.Nil(t, MatchExport(exports, "/other/file.txt"))
}

func TestClientAllowed(t *testing.T) {
	restricted := &Export{Clients: []string{"10.0.0.5"}}
	assert.True(t, ClientAllowed(restricted, "10.0.0.5"))
	assert.False(t, ClientAllowed(restricted, "10.0.0.6"))

	open := &Export{}
	assert.True(t, ClientAllowed(open, "10.0.0.6"))
}

func TestCheckPathAccess_Allowed(t *testing.T) {
	exports := []Export{{Name: "root", Path: "/export"}}
	fa := FromModeBits(100, 200, 0o644, false)
	ctx := &Context{UID: 100, ClientIP: "10.0.0.5"}

	ok, reason := CheckPathAccess(ctx, exports, "/export/file.txt", fa, PermRead)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestCheckPathAccess_OutsideExport(t *testing.T) {
	exports := []Export{{Name: "root", Path: "/export"}}
	ctx := &Context{UID: 100, ClientIP: "10.0.0.5"}

	ok, reason := CheckPathAccess(ctx, exports, "/etc/passwd", nil, PermRead)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}

func TestCheckPathAccess_DeniedByAcl(t *testing.T) {
	exports := []Export{{Name: "root", Path: "/export"}}
	fa := FromModeBits(100, 200, 0o600, false)
	ctx := &Context{UID: 999, GIDs: []uint32{999}, ClientIP: "10.0.0.5"}

	ok, _ := CheckPathAccess(ctx, exports, "/export/file.txt", fa, PermRead)
	assert.False(t, ok)
}

func TestStampTracker_AllowsMonotonicStamps(t *testing.T) {
	st := NewStampTracker()
	assert.True(t, st.Check("host1", 100))
	assert.True(t, st.Check("host1", 101))
}

func TestStampTracker_RejectsLargeRegressionWithinWindow(t *testing.T) {
	st := NewStampTracker()
	assert.True(t, st.Check("host1", 1000))
	assert.False(t, st.Check("host1", 1000-uint32(StampDrift/time.Second)-1))
}

func TestStampTracker_AllowsSmallRegressionWithinWindow(t *testing.T) {
	st := NewStampTracker()
	assert.True(t, st.Check("host1", 1000))
	assert.True(t, st.Check("host1", 999))
}
