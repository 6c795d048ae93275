package types

import (
	"encoding/json"
	"fmt"
)

// PartMetadataKind discriminates the metadata union on a message part
type PartMetadataKind string

// PartMetadataKind enum values
const (
	PartMetadataKindCitation   PartMetadataKind = "citation"
	PartMetadataKindTrajectory PartMetadataKind = "trajectory"
)

// CitationMetadata links a span of an agent's answer to its source
type CitationMetadata struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	StartIndex  int    `json:"start_index"`
	EndIndex    int    `json:"end_index"`
}

// TrajectoryMetadata surfaces an intermediate reasoning or tool step
type TrajectoryMetadata struct {
	Message  string  `json:"message"`
	ToolName *string `json:"tool_name,omitempty"`
}

// PartMetadata is a tagged union of the recognized metadata kinds. Exactly one
// of Citation or Trajectory is set, matching Kind.
type PartMetadata struct {
	Kind       PartMetadataKind
	Citation   *CitationMetadata
	Trajectory *TrajectoryMetadata
}

// partMetadataEnvelope is the flattened wire form of PartMetadata
type partMetadataEnvelope struct {
	Kind PartMetadataKind `json:"kind"`

	// citation fields
	URL         *string `json:"url,omitempty"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	StartIndex  *int    `json:"start_index,omitempty"`
	EndIndex    *int    `json:"end_index,omitempty"`

	// trajectory fields
	Message  *string `json:"message,omitempty"`
	ToolName *string `json:"tool_name,omitempty"`
}

// MarshalJSON flattens the union into a single object keyed by "kind"
func (m PartMetadata) MarshalJSON() ([]byte, error) {
	env := partMetadataEnvelope{Kind: m.Kind}

	switch m.Kind {
	case PartMetadataKindCitation:
		if m.Citation == nil {
			return nil, fmt.Errorf("citation metadata missing citation payload")
		}
		env.URL = &m.Citation.URL
		if m.Citation.Title != "" {
			env.Title = &m.Citation.Title
		}
		if m.Citation.Description != "" {
			env.Description = &m.Citation.Description
		}
		env.StartIndex = &m.Citation.StartIndex
		env.EndIndex = &m.Citation.EndIndex
	case PartMetadataKindTrajectory:
		if m.Trajectory == nil {
			return nil, fmt.Errorf("trajectory metadata missing trajectory payload")
		}
		env.Message = &m.Trajectory.Message
		env.ToolName = m.Trajectory.ToolName
	default:
		return nil, fmt.Errorf("unknown part metadata kind: %q", m.Kind)
	}

	return json.Marshal(env)
}

// UnmarshalJSON rebuilds the union from its flattened wire form
func (m *PartMetadata) UnmarshalJSON(data []byte) error {
	var env partMetadataEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	switch env.Kind {
	case PartMetadataKindCitation:
		citation := CitationMetadata{}
		if env.URL != nil {
			citation.URL = *env.URL
		}
		if env.Title != nil {
			citation.Title = *env.Title
		}
		if env.Description != nil {
			citation.Description = *env.Description
		}
		if env.StartIndex != nil {
			citation.StartIndex = *env.StartIndex
		}
		if env.EndIndex != nil {
			citation.EndIndex = *env.EndIndex
		}
		m.Kind = env.Kind
		m.Citation = &citation
		m.Trajectory = nil
	case PartMetadataKindTrajectory:
		trajectory := TrajectoryMetadata{ToolName: env.ToolName}
		if env.Message != nil {
			trajectory.Message = *env.Message
		}
		m.Kind = env.Kind
		m.Trajectory = &trajectory
		m.Citation = nil
	default:
		return fmt.Errorf("unknown part metadata kind: %q", env.Kind)
	}

	return nil
}

// NewCitationMetadata wraps a citation in a PartMetadata union
func NewCitationMetadata(citation CitationMetadata) *PartMetadata {
	return &PartMetadata{
		Kind:     PartMetadataKindCitation,
		Citation: &citation,
	}
}

// NewTrajectoryMetadata wraps a trajectory step in a PartMetadata union
func NewTrajectoryMetadata(message string, toolName *string) *PartMetadata {
	return &PartMetadata{
		Kind: PartMetadataKindTrajectory,
		Trajectory: &TrajectoryMetadata{
			Message:  message,
			ToolName: toolName,
		},
	}
}
