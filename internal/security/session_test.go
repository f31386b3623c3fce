package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTable_CreateValidateDestroy(t *testing.T) {
	st := NewSessionTable(time.Hour)
	defer st.Stop()

	s, err := st.Create(42, &Context{UID: 501}, 32)
	require.NoError(t, err)
	assert.Len(t, s.ID, SessionIDLength*2)

	got, ok := st.Validate(s.ID)
	require.True(t, ok)
	assert.Equal(t, uint64(42), got.ClientID)

	st.Destroy(s.ID)
	_, ok = st.Validate(s.ID)
	assert.False(t, ok)
}

func TestSessionTable_CreateReplacesPriorSessionForSameClient(t *testing.T) {
	st := NewSessionTable(time.Hour)
	defer st.Stop()

	first, err := st.Create(1, &Context{}, 32)
	require.NoError(t, err)
	_, err = st.Create(1, &Context{}, 32)
	require.NoError(t, err)

	_, ok := st.Validate(first.ID)
	assert.False(t, ok, "old session for the same client must be replaced")
	assert.Equal(t, 1, st.Size())
}

func TestSessionTable_ExpiresIdleSessions(t *testing.T) {
	st := NewSessionTable(20 * time.Millisecond)
	defer st.Stop()

	s, err := st.Create(1, &Context{}, 32)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := st.Validate(s.ID)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestSlotTable_RetransmitReturnsCachedReply(t *testing.T) {
	slots := NewSlotTable(32)
	slots.Store(0, 1, []byte("reply-1"))

	reply, ok := slots.Lookup(0, 1)
	require.True(t, ok)
	assert.Equal(t, []byte("reply-1"), reply)

	_, ok = slots.Lookup(0, 2)
	assert.False(t, ok)
}

func TestSlotTable_NextSeqID(t *testing.T) {
	slots := NewSlotTable(32)
	assert.True(t, slots.NextSeqID(0, 1), "first request on a slot must be seqid 1")

	slots.Store(0, 1, nil)
	assert.True(t, slots.NextSeqID(0, 1), "retransmission of the current seqid is allowed")
	assert.True(t, slots.NextSeqID(0, 2), "the next seqid is allowed")
	assert.False(t, slots.NextSeqID(0, 5), "a skipped-ahead seqid is rejected")
}
