package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeValueRoundTrip(t *testing.T) {
	raw := []byte(`{"class_uid":3002,"flag":true,"score":1.5,"name":"logon","tags":["a","b"],"nested":{"k":"v"},"none":null}`)
	v, err := DecodeValue(raw)
	require.NoError(t, err)
	require.Equal(t, KindMap, v.Kind())

	uid, ok := v.Lookup("class_uid")
	require.True(t, ok)
	n, ok := uid.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(3002), n)

	flag, _ := v.Lookup("flag")
	b, ok := flag.AsBool()
	require.True(t, ok)
	assert.True(t, b)

	score, _ := v.Lookup("score")
	f, ok := score.AsFloat()
	require.True(t, ok)
	assert.Equal(t, 1.5, f)

	nested, ok := v.Lookup("nested.k")
	require.True(t, ok)
	s, _ := nested.AsString()
	assert.Equal(t, "v", s)

	none, ok := v.Lookup("none")
	require.True(t, ok)
	assert.True(t, none.IsNull())

	_, ok = v.Lookup("nested.missing")
	assert.False(t, ok)
	_, ok = v.Lookup("name.sub")
	assert.False(t, ok)
}

func TestValueCoercions(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want int64
		ok   bool
	}{
		{"int", Int(42), 42, true},
		{"integral float", Float(42), 42, true},
		{"fractional float", Float(42.5), 0, false},
		{"numeric string", String("42"), 42, true},
		{"padded string", String(" 42 "), 42, true},
		{"word string", String("forty"), 0, false},
		{"bool", Bool(true), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.v.AsInt()
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestCanonicalJSONStable(t *testing.T) {
	a, err := DecodeValue([]byte(`{"b":1,"a":{"y":2,"x":1}}`))
	require.NoError(t, err)
	b, err := DecodeValue([]byte(`{"a":{"x":1,"y":2},"b":1}`))
	require.NoError(t, err)
	assert.Equal(t, string(a.CanonicalJSON()), string(b.CanonicalJSON()))
	assert.Equal(t, `{"a":{"x":1,"y":2},"b":1}`, string(a.CanonicalJSON()))
}

func TestDecodeValueRejectsGarbage(t *testing.T) {
	_, err := DecodeValue([]byte(`{"unterminated":`))
	assert.Error(t, err)
}
