package models

// SchemaGraph is the table/relationship graph that drives the 3D view.
type SchemaGraph struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

// Node is a table (or other entity) in the schema graph.
type Node struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Attributes []any  `json:"attributes"`
}

// Link is a relationship between two nodes.
type Link struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	Relationship string `json:"relationship"`
	Label        string `json:"label,omitempty"`
}

// EmptySchemaGraph returns a graph with non-nil, empty node and link lists.
func EmptySchemaGraph() SchemaGraph {
	return SchemaGraph{Nodes: []Node{}, Links: []Link{}}
}
