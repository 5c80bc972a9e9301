package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImage(t *testing.T) {
	tests := []struct {
		name       string
		markdown   string
		payload    string
		wantURL    string
		wantSource ImageSource
	}{
		{
			name:       "inline base64 wins over metadata",
			markdown:   "Here:\n![chart](data:image/png;base64,AAAA)",
			payload:    `{"imageUrl":"https://cdn.example.com/x.png"}`,
			wantURL:    "data:image/png;base64,AAAA",
			wantSource: ImageInline,
		},
		{
			name:       "inline base64 wins over earlier http image",
			markdown:   "![a](https://example.com/a.png) ![b](data:image/jpeg;base64,/9j/BBBB)",
			payload:    `{}`,
			wantURL:    "data:image/jpeg;base64,/9j/BBBB",
			wantSource: ImageInline,
		},
		{
			name:       "http markdown image",
			markdown:   "see ![plot](http://example.com/plot.png) and ![second](http://example.com/2.png)",
			payload:    `{"response":"x"}`,
			wantURL:    "http://example.com/plot.png",
			wantSource: ImageMarkdown,
		},
		{
			name:       "metadata field order",
			markdown:   "no image here",
			payload:    `{"chart_url":"https://c/chart.png","image_url":"https://c/image.png"}`,
			wantURL:    "https://c/image.png",
			wantSource: ImageMetadata,
		},
		{
			name:       "empty metadata field skipped",
			markdown:   "",
			payload:    `{"imageUrl":"","figure_url":"https://c/fig.png"}`,
			wantURL:    "https://c/fig.png",
			wantSource: ImageMetadata,
		},
		{
			name:       "assistant message image",
			markdown:   "answer",
			payload:    `{"messages":[{"type":"human","content":"q","image":"https://c/wrong.png"},{"type":"ai","content":"answer","imageUrl":"https://c/msg.png"}]}`,
			wantURL:    "https://c/msg.png",
			wantSource: ImageMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Image(tt.markdown, json.RawMessage(tt.payload))
			require.NotNil(t, got)
			assert.Equal(t, tt.wantURL, got.URL)
			assert.Equal(t, tt.wantSource, got.Source)
		})
	}
}

func TestImage_none(t *testing.T) {
	assert.Nil(t, Image("plain text, [not an image](http://example.com)", json.RawMessage(`{"response":"plain"}`)))
	assert.Nil(t, Image("", nil))
	assert.Nil(t, Image("", json.RawMessage(`not json`)))
}

func TestAnswer(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{
			name:    "last ai message",
			payload: `{"messages":[{"type":"human","content":"q1"},{"type":"ai","content":"first"},{"type":"human","content":"q2"},{"type":"ai","content":"second"}]}`,
			want:    "second",
		},
		{
			name:    "assistant role",
			payload: `{"messages":[{"role":"user","content":"q"},{"role":"assistant","content":"hello"}]}`,
			want:    "hello",
		},
		{
			name:    "content parts",
			payload: `{"messages":[{"type":"ai","content":[{"type":"text","text":"# Title\n"},"body"]}]}`,
			want:    "# Title\nbody",
		},
		{
			name:    "response field",
			payload: `{"response":"from response","content":"from content"}`,
			want:    "from response",
		},
		{
			name:    "content field",
			payload: `{"content":"from content"}`,
			want:    "from content",
		},
		{
			name:    "messages without assistant fall back",
			payload: `{"messages":[{"type":"human","content":"q"}],"response":"fallback"}`,
			want:    "fallback",
		},
		{
			name:    "nothing usable",
			payload: `{"status":"ok"}`,
			want:    "",
		},
		{
			name:    "not an object",
			payload: `["a"]`,
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Answer(json.RawMessage(tt.payload)))
		})
	}
}
