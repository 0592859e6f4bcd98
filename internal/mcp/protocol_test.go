package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorResponse_RoundTripsThroughJSON(t *testing.T) {
	resp := NewErrorResponse(json.RawMessage(`1`), NewUnknownSession("abc"))
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded Response
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.Error)
	assert.Equal(t, ErrCodeUnknownSession, decoded.Error.Code)
	assert.Equal(t, "abc", decoded.Error.Data)
}

func TestRPCError_ErrorStringIncludesCodeAndMessage(t *testing.T) {
	err := NewMissingSession()
	assert.Contains(t, err.Error(), "-32002")
	assert.Contains(t, err.Error(), "request requires a session")
}

func TestSuccessAndErrorResult(t *testing.T) {
	ok := SuccessResult("done")
	assert.False(t, ok.IsError)
	require.Len(t, ok.Content, 1)
	assert.Equal(t, "done", ok.Content[0].Text)

	bad := ErrorResult("boom")
	assert.True(t, bad.IsError)
}

func TestStructuredResult_CarriesStructuredContent(t *testing.T) {
	r := StructuredResult("2 items", []string{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, r.StructuredContent)
}
