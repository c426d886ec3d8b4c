package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestNormalizesStringClient(t *testing.T) {
	req, client, err := ParseRequest([]byte(`{"method":"up","client":"alice"}`))
	require.NoError(t, err)
	assert.Equal(t, "up", req.Method)
	assert.Equal(t, "alice", client)
}

func TestParseRequestNormalizesNumericClient(t *testing.T) {
	req, client, err := ParseRequest([]byte(`{"method":"up","client":42}`))
	require.NoError(t, err)
	assert.Equal(t, "up", req.Method)
	assert.Equal(t, "42", client)
}

func TestParseRequestRejectsInvalidJSON(t *testing.T) {
	_, _, err := ParseRequest([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseRequestRejectsMissingFields(t *testing.T) {
	_, _, err := ParseRequest([]byte(`{"method":"up"}`))
	assert.ErrorIs(t, err, ErrMissingFields)

	_, _, err = ParseRequest([]byte(`{"client":"alice"}`))
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestParseRequestKeepsBroadcastAddr(t *testing.T) {
	req, _, err := ParseRequest([]byte(`{"method":"up","client":"alice","broadcast_addr":"10.0.0.1:9000"}`))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:9000", req.BroadcastAddr)
}

func TestErrorResponseShape(t *testing.T) {
	resp := ErrorResponse("boom")
	assert.Equal(t, "boom", resp["error"])
}
