package types

import (
	"strings"
	"time"
)

// ContentTypeText is the content type of plain text parts
const ContentTypeText = "text/plain"

// NewTextPart creates a plain text message part
func NewTextPart(text string) MessagePart {
	return MessagePart{
		ContentType: ContentTypeText,
		Content:     &text,
	}
}

// NewTrajectoryPart creates a metadata-only part carrying a trajectory step
func NewTrajectoryPart(message string, toolName *string) MessagePart {
	return MessagePart{
		ContentType: ContentTypeText,
		Metadata:    NewTrajectoryMetadata(message, toolName),
	}
}

// NewCitationPart creates a metadata-only part carrying a citation
func NewCitationPart(citation CitationMetadata) MessagePart {
	return MessagePart{
		ContentType: ContentTypeText,
		Metadata:    NewCitationMetadata(citation),
	}
}

// NewUserMessage creates a user message with a single text part
func NewUserMessage(text string) Message {
	now := time.Now().UTC()
	return Message{
		Role:      RoleUser,
		Parts:     []MessagePart{NewTextPart(text)},
		CreatedAt: &now,
	}
}

// NewAgentMessage creates an agent message with a single text part. The role
// carries the agent name as a suffix when one is provided.
func NewAgentMessage(agentName, text string) Message {
	now := time.Now().UTC()
	role := RoleAgent
	if agentName != "" {
		role = RoleAgent + "/" + agentName
	}
	return Message{
		Role:      role,
		Parts:     []MessagePart{NewTextPart(text)},
		CreatedAt: &now,
	}
}

// Text concatenates the inline text content of all parts of the message.
// Parts without inline content (external or metadata-only) contribute nothing.
func (m Message) Text() string {
	var sb strings.Builder
	for _, part := range m.Parts {
		if part.Content == nil {
			continue
		}
		if !strings.HasPrefix(part.ContentType, "text/") {
			continue
		}
		sb.WriteString(*part.Content)
	}
	return sb.String()
}

// LastMessage returns the final message of a conversation, or false when the
// conversation is empty
func LastMessage(messages []Message) (Message, bool) {
	if len(messages) == 0 {
		return Message{}, false
	}
	return messages[len(messages)-1], true
}

// IsAgentRole reports whether the role belongs to an agent, with or without
// an agent name suffix
func IsAgentRole(role string) bool {
	return role == RoleAgent || strings.HasPrefix(role, RoleAgent+"/")
}
