package normalize

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ImageSource records where an image reference was found.
type ImageSource string

const (
	ImageInline   ImageSource = "inline"
	ImageMarkdown ImageSource = "markdown"
	ImageMetadata ImageSource = "metadata"
	ImageMessage  ImageSource = "message"
)

// ImageRef is an image attached to a chat answer. URL is either an http(s)
// URL or a data: URL.
type ImageRef struct {
	URL    string
	Source ImageSource
}

var (
	inlineImagePattern = regexp.MustCompile(`!\[[^\]]*\]\((data:image/[^;]+;base64,[^)]+)\)`)
	remoteImagePattern = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^\s)]+)\)`)
)

// imageFields are the payload keys that may carry a rendered chart.
var imageFields = []string{
	"imageUrl", "image_url", "image", "visualization_url",
	"chart_url", "graph_url", "plot_url", "figure_url",
}

// Answer returns the assistant's latest reply from a chat response. A
// "messages" list wins; otherwise "response" then "content" are used.
func Answer(raw json.RawMessage) string {
	root, ok := asObject(raw)
	if !ok {
		return ""
	}
	if msg, ok := lastAssistant(root); ok {
		return messageText(msg["content"])
	}
	if s := messageText(root["response"]); s != "" {
		return s
	}
	return messageText(root["content"])
}

// Image finds the image that goes with an answer. Inline base64 images in the
// markdown take precedence over hosted markdown images, which take precedence
// over payload metadata and finally the assistant message itself.
func Image(markdown string, raw json.RawMessage) *ImageRef {
	if m := inlineImagePattern.FindStringSubmatch(markdown); m != nil {
		return &ImageRef{URL: m[1], Source: ImageInline}
	}
	if m := remoteImagePattern.FindStringSubmatch(markdown); m != nil {
		return &ImageRef{URL: m[1], Source: ImageMarkdown}
	}

	root, ok := asObject(raw)
	if !ok {
		return nil
	}
	for _, field := range imageFields {
		if s := scalarString(root[field]); s != "" {
			return &ImageRef{URL: s, Source: ImageMetadata}
		}
	}
	if msg, ok := lastAssistant(root); ok {
		if s := firstNonEmpty(scalarString(msg["imageUrl"]), scalarString(msg["image"])); s != "" {
			return &ImageRef{URL: s, Source: ImageMessage}
		}
	}
	return nil
}

func lastAssistant(root object) (object, bool) {
	items, ok := asArray(root["messages"])
	if !ok {
		return nil, false
	}
	for i := len(items) - 1; i >= 0; i-- {
		msg, ok := asObject(items[i])
		if !ok {
			continue
		}
		if isAssistant(scalarString(msg["type"])) || isAssistant(scalarString(msg["role"])) {
			return msg, true
		}
	}
	return nil, false
}

func isAssistant(tag string) bool {
	return tag == "ai" || tag == "assistant"
}

// messageText accepts a plain string or a list of content parts, either
// strings or {"type":"text","text":...} objects.
func messageText(raw json.RawMessage) string {
	if s := scalarString(raw); s != "" {
		return s
	}
	parts, ok := asArray(raw)
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, part := range parts {
		if s := scalarString(part); s != "" {
			b.WriteString(s)
			continue
		}
		if obj, ok := asObject(part); ok {
			b.WriteString(scalarString(obj["text"]))
		}
	}
	return b.String()
}
