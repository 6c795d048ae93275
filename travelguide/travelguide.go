// Package travelguide implements a session-aware travel guide agent. It
// demonstrates the richer parts of the protocol surface: trajectory parts
// that expose the agent's steps, citation parts anchored into the answer
// text, and conversation history carried across runs of one session.
package travelguide

import (
	"context"
	"fmt"
	"strings"

	zap "go.uber.org/zap"

	server "github.com/i-am-bee/acp-go/server"
	types "github.com/i-am-bee/acp-go/types"
)

// AgentName is the name the travel guide registers under
const AgentName = "travel_guide"

// destination holds the built-in knowledge about one place
type destination struct {
	name    string
	wikiURL string
	advice  string
	weather string
}

var destinations = []destination{
	{
		name:    "Prague",
		wikiURL: "https://en.wikipedia.org/wiki/Prague",
		advice:  "Prague rewards walking: cross Charles Bridge at sunrise, climb to the castle before the crowds, and leave an evening free for the old town squares.",
		weather: "Expect warm summers and cold winters; pack layers for spring and autumn.",
	},
	{
		name:    "Tokyo",
		wikiURL: "https://en.wikipedia.org/wiki/Tokyo",
		advice:  "Tokyo is best explored by neighborhood: Asakusa for temples, Shibuya for the crossing, and Tsukiji's outer market for breakfast. Get a prepaid IC card for the trains.",
		weather: "June brings rain and August is humid; late autumn has the clearest weather for city views.",
	},
	{
		name:    "Rome",
		wikiURL: "https://en.wikipedia.org/wiki/Rome",
		advice:  "Book the Vatican and Colosseum ahead, then wander Trastevere without a plan. The best meals are a few streets away from any major sight.",
		weather: "Summers are hot and dry; spring and October offer mild weather for long days on foot.",
	},
	{
		name:    "Reykjavik",
		wikiURL: "https://en.wikipedia.org/wiki/Reykjav%C3%ADk",
		advice:  "Use Reykjavik as a base for the Golden Circle and south coast. Rent a car if you can; the landscape between sights is the real attraction.",
		weather: "Weather shifts fast year-round; waterproof layers matter more than the forecast.",
	},
}

// Handler produces travel recommendations with trajectory and citation
// metadata attached
type Handler struct {
	logger *zap.Logger
}

var _ server.Handler = (*Handler)(nil)

// NewHandler creates a travel guide handler
func NewHandler(logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{logger: logger}
}

// Run answers the last input message with travel advice. Earlier session
// messages are scanned so follow-up questions stay on the same destination.
func (h *Handler) Run(ctx context.Context, input []types.Message, run *server.RunContext) error {
	last, ok := types.LastMessage(input)
	if !ok {
		return fmt.Errorf("input must contain at least one message")
	}
	query := last.Text()

	if err := run.Yield(ctx, types.NewTrajectoryPart(
		fmt.Sprintf("Travel Guide processing: %q", query), nil)); err != nil {
		return err
	}

	dest, fromHistory := h.resolveDestination(query, input)

	thinkTool := "Think"
	if err := run.Yield(ctx, types.NewTrajectoryPart(
		"Matching the request against known destinations", &thinkTool)); err != nil {
		return err
	}

	answer := h.composeAnswer(query, dest, fromHistory)

	if dest != nil {
		wikiTool := "Wikipedia"
		if err := run.Yield(ctx, types.NewTrajectoryPart(
			fmt.Sprintf("Looked up background information for %s", dest.name), &wikiTool)); err != nil {
			return err
		}

		weatherTool := "Weather"
		if err := run.Yield(ctx, types.NewTrajectoryPart(
			fmt.Sprintf("Checked typical conditions for %s", dest.name), &weatherTool)); err != nil {
			return err
		}
	}

	if err := run.Yield(ctx, types.NewTextPart(answer)); err != nil {
		return err
	}

	for _, citation := range h.citations(answer, dest) {
		if err := run.Yield(ctx, types.NewCitationPart(citation)); err != nil {
			return err
		}
	}

	return run.Yield(ctx, types.NewTrajectoryPart("Travel Guide completed", nil))
}

// resolveDestination finds a known destination in the query, falling back
// to the most recent one mentioned earlier in the session
func (h *Handler) resolveDestination(query string, input []types.Message) (*destination, bool) {
	if dest := matchDestination(query); dest != nil {
		return dest, false
	}

	for i := len(input) - 2; i >= 0; i-- {
		if dest := matchDestination(input[i].Text()); dest != nil {
			h.logger.Debug("destination resolved from session history",
				zap.String("destination", dest.name))
			return dest, true
		}
	}

	return nil, false
}

func matchDestination(text string) *destination {
	lowered := strings.ToLower(text)
	for i := range destinations {
		if strings.Contains(lowered, strings.ToLower(destinations[i].name)) {
			return &destinations[i]
		}
	}
	return nil
}

// composeAnswer builds the recommendation text
func (h *Handler) composeAnswer(query string, dest *destination, fromHistory bool) string {
	if dest == nil {
		return "I can help with trip planning, weather expectations and local tips. " +
			"Tell me where you are headed - for example Prague, Tokyo, Rome or Reykjavik."
	}

	var b strings.Builder
	if fromHistory {
		fmt.Fprintf(&b, "Continuing with %s from earlier in our conversation. ", dest.name)
	}
	b.WriteString(dest.advice)
	b.WriteString(" ")
	b.WriteString(dest.weather)

	return b.String()
}

// citations anchors source references into the answer text
func (h *Handler) citations(answer string, dest *destination) []types.CitationMetadata {
	if dest == nil {
		return nil
	}

	citations := make([]types.CitationMetadata, 0, 2)

	lowered := strings.ToLower(answer)

	if idx := strings.Index(lowered, strings.ToLower(dest.name)); idx >= 0 {
		citations = append(citations, types.CitationMetadata{
			URL:         dest.wikiURL,
			Title:       dest.name + " - Wikipedia",
			Description: "Background information about " + dest.name,
			StartIndex:  idx,
			EndIndex:    idx + len(dest.name),
		})
	}

	for _, word := range []string{"weather", "summers", "rain", "forecast", "climate"} {
		if idx := strings.Index(lowered, word); idx >= 0 {
			citations = append(citations, types.CitationMetadata{
				URL:         "https://open-meteo.com/",
				Title:       "Open-Meteo Weather API",
				Description: "Real-time weather data and forecasts",
				StartIndex:  idx,
				EndIndex:    idx + len(word),
			})
			break
		}
	}

	return citations
}

// Agent builds the registerable travel guide agent
func Agent(logger *zap.Logger) *server.Agent {
	greeting := "Hi! I'm your Travel Guide - here to help plan trips, check weather, and recommend restaurants. Where to?"
	displayName := "Travel Guide"
	framework := "BeeAI"
	language := "Go"
	license := "Apache 2.0"

	return &server.Agent{
		Name: AgentName,
		Description: "Comprehensive travel guide agent that provides personalized recommendations " +
			"with weather, local information and trajectory tracking.",
		Metadata: &types.AgentMetadata{
			Annotations: &types.Annotations{
				BeeAIUI: &types.PlatformUIAnnotation{
					UIType:       types.UITypeChat,
					UserGreeting: &greeting,
					DisplayName:  &displayName,
					Tools: []types.AgentToolInfo{
						{
							Name:        "Think",
							Description: "Advanced reasoning and analysis for travel planning, itinerary optimization, and recommendation personalization.",
						},
						{
							Name:        "Wikipedia",
							Description: "Search comprehensive information about destinations, attractions, history, culture, and local knowledge.",
						},
						{
							Name:        "Weather",
							Description: "Get current weather conditions, forecasts, and climate information for any destination.",
						},
						{
							Name:        "DuckDuckGo",
							Description: "Search for current information about restaurants, hotels, events, transportation, and travel updates.",
						},
					},
				},
			},
			Author:              &types.Author{Name: "Jenna Winkler"},
			RecommendedModels:   []string{"granite3.3:8b-beeai"},
			Tags:                []string{"Travel", "Planning", "Research"},
			Framework:           &framework,
			ProgrammingLanguage: &language,
			License:             &license,
		},
		Handler: NewHandler(logger),
	}
}
