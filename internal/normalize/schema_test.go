package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/datalens/internal/models"
)

func TestSchema_shapes(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantNodes []models.Node
		wantLinks []models.Link
	}{
		{
			name: "schema object",
			payload: `{"schema":{"nodes":[{"id":"table_users","name":"Users","type":"collection","attributes":["id"]},{"id":"orders"}],
				"links":[{"source":"table_users","target":"orders","relationship":"1:N"}]}}`,
			wantNodes: []models.Node{
				{ID: "table_users", Name: "Users", Type: "collection", Attributes: []any{"id"}},
				{ID: "orders", Name: "orders", Type: "table", Attributes: []any{}},
			},
			wantLinks: []models.Link{{Source: "table_users", Target: "orders", Relationship: "1:N"}},
		},
		{
			name:    "graph object",
			payload: `{"graph":{"nodes":[{"id":"table_a"},{"id":"table_b"}],"links":[{"source":"table_a","target":"table_b"}]}}`,
			wantNodes: []models.Node{
				{ID: "table_a", Name: "a", Type: "table", Attributes: []any{}},
				{ID: "table_b", Name: "b", Type: "table", Attributes: []any{}},
			},
			wantLinks: []models.Link{{Source: "table_a", Target: "table_b", Relationship: "N:1"}},
		},
		{
			name:    "root nodes with links",
			payload: `{"nodes":[{"id":"table_a"},{"id":"table_b"}],"links":[{"source":"table_b","target":"table_a","relationship":"1:1"}]}`,
			wantNodes: []models.Node{
				{ID: "table_a", Name: "a", Type: "table", Attributes: []any{}},
				{ID: "table_b", Name: "b", Type: "table", Attributes: []any{}},
			},
			wantLinks: []models.Link{{Source: "table_b", Target: "table_a", Relationship: "1:1"}},
		},
		{
			name: "root nodes with edges",
			payload: `{"nodes":[{"id":"table_users"},{"id":"table_orders"}],
				"edges":[{"id":"e1","source":"table_users","target":"table_orders","label":"1:N","join":{"user_id":"id","x":"y"}},
				         {"id":"e2","source":"table_orders","target":"table_users"}]}`,
			wantNodes: []models.Node{
				{ID: "table_users", Name: "users", Type: "table", Attributes: []any{}},
				{ID: "table_orders", Name: "orders", Type: "table", Attributes: []any{}},
			},
			wantLinks: []models.Link{
				{Source: "table_users", Target: "table_orders", Relationship: "1:N", Label: "user_id"},
				{Source: "table_orders", Target: "table_users", Relationship: "N:1", Label: "e2"},
			},
		},
		{
			name:      "root nodes with relationships",
			payload:   `{"nodes":[{"id":"a"},{"id":"b"}],"relationships":[{"source":"a","target":"b","relationship":"N:N"}]}`,
			wantNodes: []models.Node{{ID: "a", Name: "a", Type: "table", Attributes: []any{}}, {ID: "b", Name: "b", Type: "table", Attributes: []any{}}},
			wantLinks: []models.Link{{Source: "a", Target: "b", Relationship: "N:N"}},
		},
		{
			name:      "root nodes without links",
			payload:   `{"nodes":[{"id":"a"}]}`,
			wantNodes: []models.Node{{ID: "a", Name: "a", Type: "table", Attributes: []any{}}},
			wantLinks: []models.Link{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Schema(json.RawMessage(tt.payload))
			assert.Equal(t, tt.wantNodes, got.Nodes)
			assert.Equal(t, tt.wantLinks, got.Links)
		})
	}
}

func TestSchema_precedence(t *testing.T) {
	payload := `{
		"nodes":[{"id":"root_node"}],
		"graph":{"nodes":[{"id":"graph_node"}]},
		"schema":{"nodes":[{"id":"schema_node"}]}
	}`
	got := Schema(json.RawMessage(payload))
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, "schema_node", got.Nodes[0].ID)

	payload = `{"nodes":[{"id":"root_node"}],"graph":{"nodes":[{"id":"graph_node"}]}}`
	got = Schema(json.RawMessage(payload))
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, "graph_node", got.Nodes[0].ID)
}

func TestSchema_emptyOrUnknown(t *testing.T) {
	for _, payload := range []string{``, `{}`, `null`, `[]`, `"text"`, `{"tables":["a"]}`, `{"nodes":"nope"}`, `{"schema":[1,2]}`, `not json`} {
		t.Run(payload, func(t *testing.T) {
			got := Schema(json.RawMessage(payload))
			assert.NotNil(t, got.Nodes)
			assert.NotNil(t, got.Links)
			assert.Empty(t, got.Nodes)
			assert.Empty(t, got.Links)

			data, err := json.Marshal(got)
			require.NoError(t, err)
			assert.JSONEq(t, `{"nodes":[],"links":[]}`, string(data))
		})
	}
}

func TestSchema_linkEndpoints(t *testing.T) {
	payload := `{"nodes":[{"id":"a"},{"id":"b"},{"name":"no id"}],
		"links":[{"source":"a","target":"elsewhere"},{"source":{"id":"a"},"target":{"id":"b"}},{"target":"b"}]}`
	got := Schema(json.RawMessage(payload))
	require.Len(t, got.Nodes, 2)
	require.Len(t, got.Links, 2)
	assert.Equal(t, models.Link{Source: "a", Target: "elsewhere", Relationship: "N:1"}, got.Links[0])
	assert.Equal(t, models.Link{Source: "a", Target: "b", Relationship: "N:1"}, got.Links[1])
}

func TestSchema_edgeToUnlistedNode(t *testing.T) {
	payload := `{"nodes":[{"id":"table_users"}],"edges":[{"source":"table_users","target":"table_orders","label":"1:N"}]}`
	got := Schema(json.RawMessage(payload))
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, "users", got.Nodes[0].Name)
	require.Len(t, got.Links, 1)
	assert.Equal(t, "1:N", got.Links[0].Relationship)
}

func TestSchema_numericIDs(t *testing.T) {
	got := Schema(json.RawMessage(`{"nodes":[{"id":1},{"id":2}],"links":[{"source":1,"target":2}]}`))
	require.Len(t, got.Nodes, 2)
	assert.Equal(t, "1", got.Nodes[0].ID)
	require.Len(t, got.Links, 1)
	assert.Equal(t, "2", got.Links[0].Target)
}
