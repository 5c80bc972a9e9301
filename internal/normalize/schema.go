// Package normalize maps the analysis service's loosely shaped responses onto
// the canonical schema graph and chat answer types. Nothing here returns an
// error: unrecognized input degrades to empty values.
package normalize

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/hyperjump/datalens/internal/models"
)

const (
	defaultNodeType     = "table"
	defaultRelationship = "N:1"
	tablePrefix         = "table_"
)

type object = map[string]json.RawMessage

// schemaMatcher recognizes one payload shape. The second return is false when
// the shape does not apply.
type schemaMatcher func(root object) (models.SchemaGraph, bool)

// schemaMatchers is consulted in order; the first match wins.
var schemaMatchers = []schemaMatcher{
	subObject("schema"),
	subObject("graph"),
	rootNodes,
}

// Schema converts a 3D-generate response into a SchemaGraph. Shapes are tried
// in a fixed order: a "schema" object, a "graph" object, then root-level
// "nodes". Anything else yields an empty graph.
func Schema(raw json.RawMessage) models.SchemaGraph {
	root, ok := asObject(raw)
	if !ok {
		return models.EmptySchemaGraph()
	}
	for _, match := range schemaMatchers {
		if g, ok := match(root); ok {
			return g
		}
	}
	return models.EmptySchemaGraph()
}

func subObject(key string) schemaMatcher {
	return func(root object) (models.SchemaGraph, bool) {
		obj, ok := asObject(root[key])
		if !ok {
			return models.SchemaGraph{}, false
		}
		return buildGraph(obj), true
	}
}

func rootNodes(root object) (models.SchemaGraph, bool) {
	if _, ok := asArray(root["nodes"]); !ok {
		return models.SchemaGraph{}, false
	}
	return buildGraph(root), true
}

func buildGraph(obj object) models.SchemaGraph {
	g := models.EmptySchemaGraph()

	items, _ := asArray(obj["nodes"])
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		n, ok := parseNode(item)
		if !ok || seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		g.Nodes = append(g.Nodes, n)
	}

	var links []models.Link
	if items, ok := asArray(obj["links"]); ok {
		links = parseLinks(items)
	} else if items, ok := asArray(obj["edges"]); ok {
		links = parseEdges(items)
	} else if items, ok := asArray(obj["relationships"]); ok {
		links = parseLinks(items)
	}

	for _, l := range links {
		if l.Source != "" && l.Target != "" {
			g.Links = append(g.Links, l)
		}
	}
	return g
}

func parseNode(raw json.RawMessage) (models.Node, bool) {
	obj, ok := asObject(raw)
	if !ok {
		return models.Node{}, false
	}
	id := scalarString(obj["id"])
	if id == "" {
		return models.Node{}, false
	}
	n := models.Node{
		ID:         id,
		Name:       scalarString(obj["name"]),
		Type:       scalarString(obj["type"]),
		Attributes: []any{},
	}
	if n.Name == "" {
		n.Name = strings.TrimPrefix(id, tablePrefix)
	}
	if n.Type == "" {
		n.Type = defaultNodeType
	}
	if items, ok := asArray(obj["attributes"]); ok {
		for _, item := range items {
			var v any
			if err := json.Unmarshal(item, &v); err == nil {
				n.Attributes = append(n.Attributes, v)
			}
		}
	}
	return n, true
}

// parseLinks reads links that are already in source/target/relationship form.
func parseLinks(items []json.RawMessage) []models.Link {
	links := make([]models.Link, 0, len(items))
	for _, item := range items {
		obj, ok := asObject(item)
		if !ok {
			continue
		}
		l := models.Link{
			Source:       endpoint(obj["source"]),
			Target:       endpoint(obj["target"]),
			Relationship: scalarString(obj["relationship"]),
			Label:        scalarString(obj["label"]),
		}
		if l.Relationship == "" {
			l.Relationship = firstNonEmpty(scalarString(obj["type"]), l.Label, defaultRelationship)
		}
		links = append(links, l)
	}
	return links
}

// parseEdges maps the edge form: the label carries the cardinality and the
// join object names the joining column.
func parseEdges(items []json.RawMessage) []models.Link {
	links := make([]models.Link, 0, len(items))
	for _, item := range items {
		obj, ok := asObject(item)
		if !ok {
			continue
		}
		l := models.Link{
			Source:       endpoint(obj["source"]),
			Target:       endpoint(obj["target"]),
			Relationship: firstNonEmpty(scalarString(obj["label"]), defaultRelationship),
		}
		if join, ok := asObject(obj["join"]); ok && len(join) > 0 {
			l.Label = firstKey(obj["join"])
		} else {
			l.Label = scalarString(obj["id"])
		}
		links = append(links, l)
	}
	return links
}

// endpoint accepts either a node id or an embedded node object.
func endpoint(raw json.RawMessage) string {
	if obj, ok := asObject(raw); ok {
		return scalarString(obj["id"])
	}
	return scalarString(raw)
}

// firstKey returns the first key of a JSON object in document order.
func firstKey(raw json.RawMessage) string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return ""
	}
	tok, err := dec.Token()
	if err != nil {
		return ""
	}
	key, _ := tok.(string)
	return key
}

func asObject(raw json.RawMessage) (object, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var obj object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func asArray(raw json.RawMessage) ([]json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}

// scalarString renders a JSON string or number as a Go string. Other kinds
// yield "".
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var f json.Number
		if err := json.Unmarshal(raw, &f); err == nil {
			if i, err := f.Int64(); err == nil {
				return strconv.FormatInt(i, 10)
			}
			return f.String()
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
