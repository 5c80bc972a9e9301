package models

import (
	"encoding/json"
	"time"
)

// Analysis is one attempt to extract insights, a schema graph and chat
// capability from a data source.
type Analysis struct {
	ID             string             `json:"id"`
	OwnerID        string             `json:"ownerId"`
	DataSourceID   string             `json:"dataSourceId"`
	DataSource     *DataSource        `json:"dataSource,omitempty"`
	Status         Status             `json:"status"`
	Summary        string             `json:"summary,omitempty"`
	KeyInsights    []string           `json:"keyInsights"`
	Visualizations []Visualization    `json:"visualizations"`
	Conversations  []ConversationTurn `json:"conversations"`
	// RawUploadData and Raw3DData are the upstream bodies exactly as received.
	RawUploadData  json.RawMessage `json:"rawUploadData,omitempty"`
	Raw3DData      json.RawMessage `json:"raw3DData,omitempty"`
	Schema         *SchemaGraph    `json:"schema,omitempty"`
	SchemaImageURL string          `json:"schemaImageUrl,omitempty"`
	ProcessingTime int64           `json:"processingTime"` // milliseconds
	ErrorMessage   string          `json:"errorMessage,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Visualization is a legacy chart descriptor.
type Visualization struct {
	ChartType   string `json:"chartType"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Data        any    `json:"data,omitempty"`
	Config      any    `json:"config,omitempty"`
}

// ConversationTurn is one question/answer exchange.
type ConversationTurn struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AnalysisResult is what a successful run writes onto an analysis.
type AnalysisResult struct {
	Summary        string
	KeyInsights    []string
	Visualizations []Visualization
	RawUploadData  json.RawMessage
	Raw3DData      json.RawMessage
	Schema         SchemaGraph
	SchemaImageURL string
	ProcessingTime int64
}

// AnalysisStatus is the polling view of an analysis.
type AnalysisStatus struct {
	Status         Status `json:"status"`
	ProcessingTime int64  `json:"processingTime"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
}
