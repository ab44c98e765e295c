package clusterrpc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	var codec jsonCodec
	req := &ForwardCallRequest{Subject: "s1", Path: "users/create", RequestID: "r1"}

	data, err := codec.Marshal(req)
	require.NoError(t, err)

	got := new(ForwardCallRequest)
	require.NoError(t, codec.Unmarshal(data, got))
	require.Equal(t, req, got)
	require.Equal(t, codecName, codec.Name())
}
