package toolhost

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult_Encode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		res  Result
		want string
	}{
		{
			name: "success",
			res:  Succeeded([]string{"a", "b"}),
			want: `{"success":true,"data":["a","b"]}`,
		},
		{
			name: "success with nil data keeps the data key",
			res:  Succeeded(nil),
			want: `{"success":true,"data":null}`,
		},
		{
			name: "failure",
			res:  Failed("unknown tool: weather"),
			want: `{"success":false,"error":"unknown tool: weather"}`,
		},
		{
			name: "parse failure carries raw arguments",
			res:  Result{Error: "cannot parse arguments: x", RawArguments: `{"query":`},
			want: `{"success":false,"error":"cannot parse arguments: x","raw_arguments":"{\"query\":"}`,
		},
		{
			name: "failure ignores stray data",
			res:  Result{Data: "leftover", Error: "boom"},
			want: `{"success":false,"error":"boom"}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.JSONEq(t, tc.want, tc.res.Encode())
		})
	}
}

func TestResult_EncodeUnserializable(t *testing.T) {
	t.Parallel()

	res := Succeeded(map[string]any{"ch": make(chan int)})
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Encode()), &got))

	assert.Equal(t, true, got["success"])
	assert.Equal(t, truncatedMessage, got["error"])
	assert.NotContains(t, got, "data")
}
