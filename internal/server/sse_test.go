package server

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteEvent(t *testing.T) {
	testCases := []struct {
		name  string
		event string
		data  string
		want  string
	}{
		{
			name:  "single line",
			event: "update",
			data:  "<h1>Hello</h1>",
			want:  "event: update\ndata: <h1>Hello</h1>\n\n",
		},
		{
			name:  "multi line split across data lines",
			event: "update",
			data:  "<h1>Hello</h1>\n<p>World</p>",
			want:  "event: update\ndata: <h1>Hello</h1>\ndata: <p>World</p>\n\n",
		},
		{
			name:  "trailing newline does not add empty data line",
			event: "update",
			data:  "line\n",
			want:  "event: update\ndata: line\n\n",
		},
		{
			name:  "empty payload still delivered",
			event: "render_error",
			data:  "",
			want:  "event: render_error\ndata: \n\n",
		},
		{
			name:  "json payload",
			event: "rate_limited",
			data:  `{"limit":60,"reset":1700000000}`,
			want:  "event: rate_limited\ndata: {\"limit\":60,\"reset\":1700000000}\n\n",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var b strings.Builder
			require.NoError(t, writeEvent(&b, tc.event, tc.data))
			assert.Equal(t, tc.want, b.String())
		})
	}
}
