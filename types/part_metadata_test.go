package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalPartMetadata(t *testing.T) {
	toolName := "Wikipedia"

	tests := []struct {
		name     string
		jsonData string
		expected PartMetadata
	}{
		{
			name:     "unmarshal citation metadata",
			jsonData: `{"kind": "citation", "url": "https://en.wikipedia.org/wiki/Prague", "title": "Prague", "description": "About Prague", "start_index": 10, "end_index": 16}`,
			expected: PartMetadata{
				Kind: PartMetadataKindCitation,
				Citation: &CitationMetadata{
					URL:         "https://en.wikipedia.org/wiki/Prague",
					Title:       "Prague",
					Description: "About Prague",
					StartIndex:  10,
					EndIndex:    16,
				},
			},
		},
		{
			name:     "unmarshal citation metadata without optional fields",
			jsonData: `{"kind": "citation", "url": "https://example.com", "start_index": 0, "end_index": 4}`,
			expected: PartMetadata{
				Kind: PartMetadataKindCitation,
				Citation: &CitationMetadata{
					URL:        "https://example.com",
					StartIndex: 0,
					EndIndex:   4,
				},
			},
		},
		{
			name:     "unmarshal trajectory metadata with tool name",
			jsonData: `{"kind": "trajectory", "message": "Looking up background information", "tool_name": "Wikipedia"}`,
			expected: PartMetadata{
				Kind: PartMetadataKindTrajectory,
				Trajectory: &TrajectoryMetadata{
					Message:  "Looking up background information",
					ToolName: &toolName,
				},
			},
		},
		{
			name:     "unmarshal trajectory metadata without tool name",
			jsonData: `{"kind": "trajectory", "message": "Processing request"}`,
			expected: PartMetadata{
				Kind: PartMetadataKindTrajectory,
				Trajectory: &TrajectoryMetadata{
					Message: "Processing request",
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var metadata PartMetadata
			err := json.Unmarshal([]byte(tt.jsonData), &metadata)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, metadata)
		})
	}
}

func TestUnmarshalPartMetadata_UnknownKind(t *testing.T) {
	var metadata PartMetadata
	err := json.Unmarshal([]byte(`{"kind": "sketch"}`), &metadata)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown part metadata kind")
}

func TestMarshalPartMetadata(t *testing.T) {
	toolName := "Weather"

	tests := []struct {
		name     string
		metadata PartMetadata
		expected string
	}{
		{
			name: "marshal citation metadata",
			metadata: PartMetadata{
				Kind: PartMetadataKindCitation,
				Citation: &CitationMetadata{
					URL:        "https://open-meteo.com/",
					Title:      "Open-Meteo",
					StartIndex: 5,
					EndIndex:   12,
				},
			},
			expected: `{"kind":"citation","url":"https://open-meteo.com/","title":"Open-Meteo","start_index":5,"end_index":12}`,
		},
		{
			name: "marshal trajectory metadata",
			metadata: PartMetadata{
				Kind: PartMetadataKindTrajectory,
				Trajectory: &TrajectoryMetadata{
					Message:  "Checked typical conditions",
					ToolName: &toolName,
				},
			},
			expected: `{"kind":"trajectory","message":"Checked typical conditions","tool_name":"Weather"}`,
		},
		{
			name: "marshal trajectory metadata without tool name",
			metadata: PartMetadata{
				Kind:       PartMetadataKindTrajectory,
				Trajectory: &TrajectoryMetadata{Message: "done"},
			},
			expected: `{"kind":"trajectory","message":"done"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.metadata)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(data))
		})
	}
}

func TestMarshalPartMetadata_MissingPayload(t *testing.T) {
	_, err := json.Marshal(PartMetadata{Kind: PartMetadataKindCitation})
	assert.Error(t, err)

	_, err = json.Marshal(PartMetadata{Kind: PartMetadataKindTrajectory})
	assert.Error(t, err)
}

func TestPartMetadataRoundTrip(t *testing.T) {
	part := NewCitationPart(CitationMetadata{
		URL:        "https://en.wikipedia.org/wiki/Tokyo",
		Title:      "Tokyo - Wikipedia",
		StartIndex: 3,
		EndIndex:   8,
	})

	data, err := json.Marshal(part)
	require.NoError(t, err)

	var decoded MessagePart
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.NotNil(t, decoded.Metadata)
	assert.Equal(t, PartMetadataKindCitation, decoded.Metadata.Kind)
	require.NotNil(t, decoded.Metadata.Citation)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Tokyo", decoded.Metadata.Citation.URL)
	assert.Equal(t, 3, decoded.Metadata.Citation.StartIndex)
	assert.Equal(t, 8, decoded.Metadata.Citation.EndIndex)
}
