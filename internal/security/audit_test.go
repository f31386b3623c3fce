package security

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferSink struct {
	bytes.Buffer
}

func (bufferSink) Close() error { return nil }

func TestAuditLog_RecordAppendsJSONLine(t *testing.T) {
	sink := &bufferSink{}
	log := NewAuditLog(sink)

	log.Record(AuditEvent{
		Time:      time.Now(),
		ClientIP:  "10.0.0.5",
		UID:       501,
		Path:      "/export/file.txt",
		Operation: "READ",
		Allowed:   false,
		Reason:    "permission denied by ACL",
	})

	var decoded AuditEvent
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(sink.Bytes()), &decoded))
	assert.Equal(t, "READ", decoded.Operation)
	assert.False(t, decoded.Allowed)
}

func TestAuditLog_NilSinkIsNoop(t *testing.T) {
	var log *AuditLog
	assert.NotPanics(t, func() {
		log.Record(AuditEvent{Operation: "READ"})
		_ = log.Close()
	})
}
