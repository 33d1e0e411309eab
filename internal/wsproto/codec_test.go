package wsproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEmptyFrame(t *testing.T) {
	_, _, ok := Decode(nil)
	assert.False(t, ok)
}

func TestDecodeInputFrame(t *testing.T) {
	tag, payload, ok := Decode([]byte("0hello\n"))
	require.True(t, ok)
	assert.Equal(t, Input, tag)
	assert.Equal(t, []byte("hello\n"), payload)
}

func TestEncodeOutputRoundTrip(t *testing.T) {
	framed := EncodeOutput([]byte("hello\n"))
	tag, payload, ok := Decode(framed)
	require.True(t, ok)
	assert.EqualValues(t, Output, tag)
	assert.Equal(t, []byte("hello\n"), payload)
}

func TestParseHandshake(t *testing.T) {
	h, err := ParseHandshake([]byte(`{"AuthToken":"dXNlcjpwdw==","columns":80,"rows":24}`))
	require.NoError(t, err)
	assert.Equal(t, "dXNlcjpwdw==", h.AuthToken)
	assert.EqualValues(t, 80, h.Columns)
	assert.EqualValues(t, 24, h.Rows)
}

func TestParseResize(t *testing.T) {
	r, err := ParseResize([]byte(`{"columns":132,"rows":40}`))
	require.NoError(t, err)
	assert.EqualValues(t, 132, r.Columns)
	assert.EqualValues(t, 40, r.Rows)
}

func TestReassemblerAccumulatesFragments(t *testing.T) {
	var r Reassembler
	r.Append([]byte("{\"Auth"))
	r.Append([]byte("Token\":\"x\"}"))
	msg := r.TakeFinal()
	h, err := ParseHandshake(msg)
	require.NoError(t, err)
	assert.Equal(t, "x", h.AuthToken)
	assert.Equal(t, 0, r.Len())
}
