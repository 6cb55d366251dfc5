package vectorpb

import (
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

func TestCodecIsRegistered(t *testing.T) {
	c := encoding.GetCodec(CodecName)
	require.NotNil(t, c)
	assert.Equal(t, CodecName, c.Name())
}

func TestCodecRoundTrip(t *testing.T) {
	c := codec{}
	in := &EventRequest{
		Events:    []jsoniter.RawMessage{jsoniter.RawMessage(`{"class_uid":3002}`)},
		RequestID: "req-1",
	}
	data, err := c.Marshal(in)
	require.NoError(t, err)

	out := new(EventRequest)
	require.NoError(t, c.Unmarshal(data, out))
	assert.Equal(t, in.RequestID, out.RequestID)
	require.Len(t, out.Events, 1)
	assert.JSONEq(t, `{"class_uid":3002}`, string(out.Events[0]))
}

func TestCodecUnmarshalEmpty(t *testing.T) {
	out := new(HealthCheckRequest)
	assert.NoError(t, codec{}.Unmarshal(nil, out))
}

func TestCodecUnmarshalError(t *testing.T) {
	out := new(EventRequest)
	assert.Error(t, codec{}.Unmarshal([]byte("{"), out))
}
