package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/relay/internal/protocol"
)

func TestSessionHandle(t *testing.T) {
	s := &session{key: "alice"}

	act := s.handle("/to bob  hello there ")
	assert.Equal(t, "bob", act.target)
	assert.Equal(t, map[string]any{"type": "chat", "text": "hello there"}, act.payload)

	act = s.handle("plain line")
	assert.Nil(t, act.payload)
	assert.Contains(t, act.info, "no default target")

	s.handle("/target carol")
	act = s.handle("plain line")
	assert.Equal(t, "carol", act.target)
	assert.Equal(t, "plain line", act.payload["text"])

	assert.Equal(t, "key: alice", s.handle("/key").info)
	assert.True(t, s.handle("/quit").quit)
	assert.Contains(t, s.handle("/nope").info, "unknown command")
	assert.Equal(t, action{}, s.handle("   "))
}

func TestSessionModelRequest(t *testing.T) {
	s := &session{model: "gpt"}

	act := s.handle("/model what is 2+2?")
	require.NotNil(t, act.payload)
	assert.Empty(t, act.target)
	assert.Equal(t, protocol.TypeModelRequest, act.payload["type"])
	assert.Equal(t, "what is 2+2?", act.payload["text"])
	assert.Equal(t, "gpt", act.payload["model"])
	assert.NotEmpty(t, act.payload["session_id"])

	assert.Contains(t, s.handle("/model").info, "usage")
}

func TestPrintEnvelope(t *testing.T) {
	var buf bytes.Buffer
	printEnvelope(&buf, &protocol.Envelope{Type: "chat", Sender: "bob", Text: "hi"})
	assert.Contains(t, buf.String(), "[chat] from bob")
	assert.Contains(t, buf.String(), `"text": "hi"`)
}
