package normalize

import (
	"encoding/json"
)

// DefaultSummary is used when the upload response carries no summary.
const DefaultSummary = "Analysis completed successfully"

var schemaImageFields = []string{"imageUrl", "image_url", "visualization_url", "image"}

// Summary reads the upload response's "summary", then "message".
func Summary(rawUpload json.RawMessage) string {
	root, ok := asObject(rawUpload)
	if !ok {
		return DefaultSummary
	}
	return firstNonEmpty(scalarString(root["summary"]), scalarString(root["message"]), DefaultSummary)
}

// Insights reads "insights", then "key_insights". A single string is
// treated as a one-item list. The result is never nil.
func Insights(rawUpload json.RawMessage) []string {
	root, ok := asObject(rawUpload)
	if !ok {
		return []string{}
	}
	for _, key := range []string{"insights", "key_insights"} {
		if out := stringList(root[key]); len(out) > 0 {
			return out
		}
	}
	return []string{}
}

// SchemaImage returns the rendered 3D image URL from a 3D-generate response.
func SchemaImage(raw3D json.RawMessage) string {
	root, ok := asObject(raw3D)
	if !ok {
		return ""
	}
	for _, field := range schemaImageFields {
		if s := scalarString(root[field]); s != "" {
			return s
		}
	}
	return ""
}

func stringList(raw json.RawMessage) []string {
	if s := scalarString(raw); s != "" {
		return []string{s}
	}
	items, ok := asArray(raw)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := scalarString(item); s != "" {
			out = append(out, s)
			continue
		}
		if obj, ok := asObject(item); ok {
			if s := firstNonEmpty(scalarString(obj["text"]), scalarString(obj["insight"]), scalarString(obj["description"])); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
