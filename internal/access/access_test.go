package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker() *Tracker {
	return New(Config{FileAccessTimeout: time.Hour, CleanupInterval: time.Hour})
}

func TestOpen_CompatibilityMatrix(t *testing.T) {
	cases := []struct {
		existing, new Sharing
		wantErr       bool
	}{
		{Exclusive, Exclusive, true},
		{Exclusive, SharedRead, true},
		{Exclusive, SharedWrite, true},
		{Exclusive, SharedAll, true},
		{SharedRead, Exclusive, true},
		{SharedRead, SharedRead, false},
		{SharedRead, SharedWrite, true},
		{SharedRead, SharedAll, true},
		{SharedWrite, Exclusive, true},
		{SharedWrite, SharedRead, true},
		{SharedWrite, SharedWrite, false},
		{SharedWrite, SharedAll, true},
		{SharedAll, Exclusive, true},
		{SharedAll, SharedRead, false},
		{SharedAll, SharedWrite, false},
		{SharedAll, SharedAll, false},
	}

	for _, tc := range cases {
		tr := newTestTracker()
		require.NoError(t, tr.Open("/export/f", "owner-a", ModeReadWrite, tc.existing))

		err := tr.Open("/export/f", "owner-b", ModeReadWrite, tc.new)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrShareDenied, "existing=%v new=%v", tc.existing, tc.new)
		} else {
			assert.NoError(t, err, "existing=%v new=%v", tc.existing, tc.new)
		}
	}
}

func TestOpen_SameOwnerNeverConflicts(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Open("/export/f", "owner-a", ModeReadWrite, Exclusive))
	assert.NoError(t, tr.Open("/export/f", "owner-a", ModeReadWrite, Exclusive))
}

func TestClose_RemovesRecord(t *testing.T) {
	tr := newTestTracker()
	require.NoError(t, tr.Open("/export/f", "owner-a", ModeReadOnly, Exclusive))
	assert.Equal(t, 1, tr.Size())

	tr.Close("/export/f", "owner-a")
	assert.Equal(t, 0, tr.Size())

	assert.NoError(t, tr.Open("/export/f", "owner-b", ModeReadOnly, Exclusive))
}

func TestSweepExpired_RemovesStaleRecords(t *testing.T) {
	tr := New(Config{FileAccessTimeout: 10 * time.Millisecond, CleanupInterval: 5 * time.Millisecond})
	defer tr.Stop()

	require.NoError(t, tr.Open("/export/f", "owner-a", ModeReadOnly, Exclusive))
	require.Eventually(t, func() bool {
		return tr.Size() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestTouch_RefreshesExpiry(t *testing.T) {
	tr := New(Config{FileAccessTimeout: 50 * time.Millisecond, CleanupInterval: 200 * time.Millisecond})
	defer tr.Stop()

	require.NoError(t, tr.Open("/export/f", "owner-a", ModeReadOnly, Exclusive))
	time.Sleep(30 * time.Millisecond)
	tr.Touch("/export/f", "owner-a")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, tr.Size(), "touch should have pushed expiry past the first 50ms window")
}
