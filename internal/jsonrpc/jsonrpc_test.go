package jsonrpc

import (
	"encoding/json"
	"testing"

	perr "fetchmcp/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Request(t *testing.T) {
	t.Parallel()
	m, err := Decode([]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
	require.NoError(t, err)
	assert.Equal(t, KindRequest, m.Classify())
	assert.Equal(t, "initialize", m.Method)
}

func TestDecode_Notification(t *testing.T) {
	t.Parallel()
	m, err := Decode([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	assert.Equal(t, KindNotification, m.Classify())
}

func TestDecode_RejectsBatch(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte(`[{"jsonrpc":"2.0","id":1,"method":"a"}]`))
	require.Error(t, err)
	assert.Equal(t, perr.ErrorCodeValidation, perr.CodeOf(err))
}

func TestDecode_RejectsBatchWithLeadingWhitespace(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte("  \n[{}]"))
	require.Error(t, err)
	assert.Equal(t, perr.ErrorCodeValidation, perr.CodeOf(err))
}

func TestDecode_MalformedJSONIsParseError(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte(`{not json`))
	require.Error(t, err)
	assert.Equal(t, perr.ErrorCodeParseError, perr.CodeOf(err))
}

func TestDecode_WrongVersionIsInvalidRequest(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte(`{"jsonrpc":"1.0","id":1,"method":"a"}`))
	require.Error(t, err)
	assert.Equal(t, perr.ErrorCodeValidation, perr.CodeOf(err))
}

func TestNewError_MapsCodesToWire(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err      error
		wireCode int
	}{
		{perr.ParseErrorf("bad json"), CodeParseError},
		{perr.Validationf("bad field"), CodeInvalidRequest},
		{perr.SessionNotFoundf("no such session"), CodeInvalidRequest},
		{perr.ServerBusyf("busy"), CodeServerError},
		{perr.Internalf("boom"), CodeInternalError},
	}
	for _, c := range cases {
		msg := NewError(ID{}, c.err)
		require.NotNil(t, msg.Error)
		assert.Equal(t, c.wireCode, msg.Error.Code)
	}
}

func TestNewResponse_RoundTripsResult(t *testing.T) {
	t.Parallel()
	var id ID
	require.NoError(t, json.Unmarshal([]byte(`7`), &id))

	msg, err := NewResponse(id, map[string]string{"ok": "yes"})
	require.NoError(t, err)
	assert.Equal(t, KindResponse, msg.Classify())

	encoded, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"id":7`)
	assert.Contains(t, string(encoded), `"ok":"yes"`)
}

func TestID_IsZeroForNotifications(t *testing.T) {
	t.Parallel()
	var id ID
	assert.True(t, id.IsZero())

	require.NoError(t, json.Unmarshal([]byte(`"abc"`), &id))
	assert.False(t, id.IsZero())
}
