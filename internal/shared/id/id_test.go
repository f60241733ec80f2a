package id

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionID(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()

	assert.True(t, strings.HasPrefix(a.String(), "prev_"))
	assert.NotEqual(t, a, b)
	assert.True(t, a.Valid())
	assert.Less(t, a.String(), b.String(), "session IDs sort by creation order")
}

func TestSessionIDValid(t *testing.T) {
	assert.False(t, SessionID("").Valid())
	assert.False(t, SessionID("req_01ARZ3NDEKTSV4RRFFQ69G5FAV").Valid())
	assert.False(t, SessionID("prev_not-a-ulid").Valid())
	assert.True(t, SessionID("prev_01ARZ3NDEKTSV4RRFFQ69G5FAV").Valid())
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, err := Timestamp(NewRequestID().String())
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = Timestamp("req_bogus")
	assert.Error(t, err)
}
