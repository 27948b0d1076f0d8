package agent

import (
	"context"
	"fmt"
)

// Auxiliary single-purpose roles. These share the base contract and the
// standalone session convention but run outside the deliberation chain.
const (
	RoleAuthenticity  = "authenticity"
	RoleLocationMatch = "location_match"
	RoleGuideQA       = "guide_qa"
)

// AuthenticityInput describes one piece of media or a user report to vet.
type AuthenticityInput struct {
	Kind        string `json:"kind"` // video | news | user_report
	Text        string `json:"text"`
	SourceURL   string `json:"source_url,omitempty"`
	Description string `json:"description,omitempty"`
}

// AuthenticityResult scores how likely the content depicts a real, current
// event rather than recycled or fabricated material.
type AuthenticityResult struct {
	Authentic  bool     `json:"authentic"`
	Score      float64  `json:"score"`
	Indicators []string `json:"indicators"`
	Verdict    string   `json:"verdict"`
}

// LocationMatchInput asks whether two location names refer to the same place.
type LocationMatchInput struct {
	NameA string `json:"name_a"`
	NameB string `json:"name_b"`
}

// LocationMatchResult is the equivalence judgment.
type LocationMatchResult struct {
	Same          bool    `json:"same"`
	Confidence    float64 `json:"confidence"`
	CanonicalName string  `json:"canonical_name"`
}

// GuideQAInput is a question answered strictly from supplied guide excerpts.
type GuideQAInput struct {
	Question string   `json:"question"`
	Excerpts []string `json:"excerpts"`
}

// GuideQAResult is the grounded answer.
type GuideQAResult struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// AuthenticityAnalyzer returns the agent that vets video, news, or
// user-report content.
func AuthenticityAnalyzer(model string) Definition {
	return Definition{
		Role:      RoleAuthenticity,
		Model:     model,
		MaxTokens: 1024,
		System: `You vet disaster-related content for authenticity: is it plausibly a real, current event, or recycled/staged/fabricated material?
Respond with strict JSON only: {"authentic": bool, "score": number, "indicators": [string], "verdict": string}. score is in [0,1].`,
		BuildPrompt: func(input any) (string, error) {
			in, ok := input.(*AuthenticityInput)
			if !ok {
				return "", fmt.Errorf("authenticity: input is %T, want *AuthenticityInput", input)
			}
			return fmt.Sprintf("kind: %s\nurl: %s\ndescription: %s\ntext: %s\n\nAssess authenticity.",
				in.Kind, in.SourceURL, in.Description, in.Text), nil
		},
	}
}

// LocationMatcher returns the agent that decides whether two location names
// refer to the same place, accounting for spelling variants and local names.
func LocationMatcher(model string) Definition {
	return Definition{
		Role:      RoleLocationMatch,
		Model:     model,
		MaxTokens: 512,
		System: `You decide whether two location names refer to the same place, accounting for abbreviations, local spellings, and administrative levels.
Respond with strict JSON only: {"same": bool, "confidence": number, "canonical_name": string}.`,
		BuildPrompt: func(input any) (string, error) {
			in, ok := input.(*LocationMatchInput)
			if !ok {
				return "", fmt.Errorf("location match: input is %T, want *LocationMatchInput", input)
			}
			return fmt.Sprintf("A: %s\nB: %s\n\nSame place?", in.NameA, in.NameB), nil
		},
	}
}

// GuideQA returns the agent that answers preparedness questions grounded
// only in the supplied guide excerpts.
func GuideQA(model string) Definition {
	return Definition{
		Role:      RoleGuideQA,
		Model:     model,
		MaxTokens: 1024,
		System: `You answer disaster-preparedness questions using ONLY the supplied guide excerpts. If the excerpts do not cover the question, say so.
Respond with strict JSON only: {"answer": string, "sources": [string]}.`,
		BuildPrompt: func(input any) (string, error) {
			in, ok := input.(*GuideQAInput)
			if !ok {
				return "", fmt.Errorf("guide qa: input is %T, want *GuideQAInput", input)
			}
			prompt := "Excerpts:\n"
			for i, e := range in.Excerpts {
				prompt += fmt.Sprintf("[%d] %s\n", i+1, e)
			}
			prompt += "\nQuestion: " + in.Question
			return prompt, nil
		},
	}
}

// AnalyzeAuthenticity runs the authenticity agent as a standalone call.
func AnalyzeAuthenticity(ctx context.Context, p Provider, model string, in *AuthenticityInput) (*AuthenticityResult, *Trace, error) {
	var out AuthenticityResult
	tr, err := Run(ctx, p, AuthenticityAnalyzer(model), newAuditSession(), in, &out)
	if err != nil {
		return nil, nil, err
	}
	return &out, tr, nil
}

// MatchLocations runs the location-equivalence agent as a standalone call.
func MatchLocations(ctx context.Context, p Provider, model string, a, b string) (*LocationMatchResult, *Trace, error) {
	var out LocationMatchResult
	tr, err := Run(ctx, p, LocationMatcher(model), newAuditSession(), &LocationMatchInput{NameA: a, NameB: b}, &out)
	if err != nil {
		return nil, nil, err
	}
	return &out, tr, nil
}

// AnswerFromGuide runs the guide Q&A agent as a standalone call.
func AnswerFromGuide(ctx context.Context, p Provider, model string, in *GuideQAInput) (*GuideQAResult, *Trace, error) {
	var out GuideQAResult
	tr, err := Run(ctx, p, GuideQA(model), newAuditSession(), in, &out)
	if err != nil {
		return nil, nil, err
	}
	return &out, tr, nil
}
