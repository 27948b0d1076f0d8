package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/beacon/internal/diversity"
	"github.com/linnemanlabs/beacon/internal/incident"
	"github.com/linnemanlabs/beacon/internal/signal"
)

// The five deliberation roles, in execution order.
const (
	RoleObserver    = "observer"
	RoleClassifier  = "classifier"
	RoleSkeptic     = "skeptic"
	RoleSynthesizer = "synthesizer"
	RoleAction      = "action"
)

const deliberateMaxTokens = 2048

// Observation is the Observer's output: what the signals say, nothing more.
type Observation struct {
	Summary  string   `json:"summary"`
	Facts    []string `json:"facts"`
	Timeline []string `json:"timeline"`
}

// Hypothesis is one ranked explanation from the Classifier.
type Hypothesis struct {
	EventType          string   `json:"event_type"`
	Description        string   `json:"description"`
	Likelihood         float64  `json:"likelihood"`
	SupportingEvidence []string `json:"supporting_evidence"`
}

// Classification is the Classifier's output: hypotheses ranked by likelihood.
type Classification struct {
	Hypotheses []Hypothesis `json:"hypotheses"`
}

// Critique is the Skeptic's output: what could make this a non-event.
type Critique struct {
	Concerns                []string `json:"concerns"`
	Contradictions          []string `json:"contradictions"`
	AlternativeExplanations []string `json:"alternative_explanations"`
	Assessment              string   `json:"assessment"`
}

// Conclusion is the Synthesizer's final judgment. ConfidenceScore is the raw
// pre-diversity-bonus estimate at parse time; the pipeline overwrites it
// with the adjusted value before the Action stage.
type Conclusion struct {
	FinalClassification string  `json:"final_classification"`
	ConfidenceScore     float64 `json:"confidence_score"`
	Severity            string  `json:"severity"`
	Title               string  `json:"title"`
	Description         string  `json:"description"`
	ReasoningTrace      string  `json:"reasoning_trace"`
}

// Decision is the Action agent's verdict on what to do with the cluster.
type Decision string

const (
	DecisionCreate  Decision = "CREATE_INCIDENT"
	DecisionMerge   Decision = "MERGE_INCIDENT"
	DecisionWait    Decision = "WAIT_FOR_MORE_DATA"
	DecisionDismiss Decision = "DISMISS"
)

// ActionResult is the Action agent's output.
type ActionResult struct {
	Decision         Decision `json:"decision"`
	TargetIncidentID string   `json:"target_incident_id,omitempty"`
	Reason           string   `json:"reason"`
}

// ObserverInput is the raw evidence handed to the Observer.
type ObserverInput struct {
	City    string
	Signals []signal.Signal
}

// SkepticInput carries everything the Skeptic challenges.
type SkepticInput struct {
	Observation    Observation
	Classification Classification
	Breakdown      *diversity.SourceBreakdown
}

// SynthesizerInput carries the full deliberation so far.
type SynthesizerInput struct {
	Observation    Observation
	Classification Classification
	Critique       Critique
}

// ActionInput carries the conclusion plus existing incidents near the cluster.
type ActionInput struct {
	Conclusion Conclusion
	Nearby     []incident.Incident
}

// Observer returns the agent that turns raw signals into an objective
// summary with no speculation.
func Observer(model string) Definition {
	return Definition{
		Role:      RoleObserver,
		Model:     model,
		MaxTokens: deliberateMaxTokens,
		System: `You are the Observer in a disaster-detection deliberation. You restate evidence; you never speculate.
Respond with strict JSON only: {"summary": string, "facts": [string], "timeline": [string]}.`,
		BuildPrompt: func(input any) (string, error) {
			in, ok := input.(*ObserverInput)
			if !ok {
				return "", fmt.Errorf("observer: input is %T, want *ObserverInput", input)
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "Location: %s\nSignals (%d):\n", in.City, len(in.Signals))
			for i, s := range in.Signals {
				fmt.Fprintf(&sb, "%d. [%s] (%s) %s\n", i+1, s.Source, s.CreatedAt.Format("15:04:05"), s.Text)
			}
			sb.WriteString("\nSummarize what these reports objectively say: extracted facts and a timeline of events.")
			return sb.String(), nil
		},
	}
}

// Classifier returns the agent that ranks event-type hypotheses over the
// Observer's summary.
func Classifier(model string) Definition {
	return Definition{
		Role:      RoleClassifier,
		Model:     model,
		MaxTokens: deliberateMaxTokens,
		System: `You are the Classifier in a disaster-detection deliberation. You rank hypotheses about what kind of event the observed evidence describes.
Respond with strict JSON only: {"hypotheses": [{"event_type": string, "description": string, "likelihood": number, "supporting_evidence": [string]}]}.
Order hypotheses by likelihood, highest first. Use event_type "other" when no disaster hypothesis holds.`,
		BuildPrompt: func(input any) (string, error) {
			obs, ok := input.(*Observation)
			if !ok {
				return "", fmt.Errorf("classifier: input is %T, want *Observation", input)
			}
			body, err := json.MarshalIndent(obs, "", "  ")
			if err != nil {
				return "", fmt.Errorf("marshal observation: %w", err)
			}
			return fmt.Sprintf("Observer output:\n%s\n\nRank the plausible event-type hypotheses.", body), nil
		},
	}
}

// Skeptic returns the agent that argues against the leading hypothesis.
func Skeptic(model string) Definition {
	return Definition{
		Role:      RoleSkeptic,
		Model:     model,
		MaxTokens: deliberateMaxTokens,
		System: `You are the Skeptic in a disaster-detection deliberation. Your job is to find reasons this is NOT a real incident: contradictions, benign explanations, signs of rumor amplification.
Respond with strict JSON only: {"concerns": [string], "contradictions": [string], "alternative_explanations": [string], "assessment": string}.`,
		BuildPrompt: func(input any) (string, error) {
			in, ok := input.(*SkepticInput)
			if !ok {
				return "", fmt.Errorf("skeptic: input is %T, want *SkepticInput", input)
			}
			obs, err := json.MarshalIndent(in.Observation, "", "  ")
			if err != nil {
				return "", fmt.Errorf("marshal observation: %w", err)
			}
			cls, err := json.MarshalIndent(in.Classification, "", "  ")
			if err != nil {
				return "", fmt.Errorf("marshal classification: %w", err)
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "Observer output:\n%s\n\nClassifier output:\n%s\n", obs, cls)
			if in.Breakdown != nil {
				bd, err := json.MarshalIndent(in.Breakdown, "", "  ")
				if err != nil {
					return "", fmt.Errorf("marshal breakdown: %w", err)
				}
				fmt.Fprintf(&sb, "\nSource breakdown:\n%s\n", bd)
			}
			sb.WriteString("\nChallenge the leading hypothesis.")
			return sb.String(), nil
		},
	}
}

// Synthesizer returns the agent that weighs the full deliberation into a
// final judgment with a confidence score.
func Synthesizer(model string) Definition {
	return Definition{
		Role:      RoleSynthesizer,
		Model:     model,
		MaxTokens: deliberateMaxTokens,
		System: `You are the Synthesizer in a disaster-detection deliberation. Weigh the observation, the ranked hypotheses, and the skeptic's objections into one final judgment.
Respond with strict JSON only: {"final_classification": string, "confidence_score": number, "severity": "low"|"medium"|"high", "title": string, "description": string, "reasoning_trace": string}.
confidence_score is in [0,1]. Use final_classification "other" for non-incidents.`,
		BuildPrompt: func(input any) (string, error) {
			in, ok := input.(*SynthesizerInput)
			if !ok {
				return "", fmt.Errorf("synthesizer: input is %T, want *SynthesizerInput", input)
			}
			body, err := json.MarshalIndent(in, "", "  ")
			if err != nil {
				return "", fmt.Errorf("marshal deliberation: %w", err)
			}
			return fmt.Sprintf("Deliberation so far:\n%s\n\nProduce the final judgment.", body), nil
		},
	}
}

// Action returns the agent that picks what to do with the cluster. Its
// verdict is advisory: the pipeline enforces the decision policy
// deterministically and keeps the agent's reason and merge target.
func Action(model string) Definition {
	return Definition{
		Role:      RoleAction,
		Model:     model,
		MaxTokens: deliberateMaxTokens,
		System: `You are the Action agent in a disaster-detection deliberation. Decide what to do with a concluded cluster.
Policy:
- confidence below 0.6: WAIT_FOR_MORE_DATA
- confidence 0.6 or above and a similar nearby incident exists: MERGE_INCIDENT (set target_incident_id)
- confidence 0.6 or above and no similar incident: CREATE_INCIDENT
- classification is "other" or "noise": DISMISS
Respond with strict JSON only: {"decision": "CREATE_INCIDENT"|"MERGE_INCIDENT"|"WAIT_FOR_MORE_DATA"|"DISMISS", "target_incident_id": string, "reason": string}.`,
		BuildPrompt: func(input any) (string, error) {
			in, ok := input.(*ActionInput)
			if !ok {
				return "", fmt.Errorf("action: input is %T, want *ActionInput", input)
			}
			conc, err := json.MarshalIndent(in.Conclusion, "", "  ")
			if err != nil {
				return "", fmt.Errorf("marshal conclusion: %w", err)
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "Conclusion:\n%s\n\nNearby existing incidents (%d):\n", conc, len(in.Nearby))
			for _, inc := range in.Nearby {
				fmt.Fprintf(&sb, "- id=%s event_type=%s city=%s status=%s confidence=%.2f\n",
					inc.ID, inc.EventType, inc.City, inc.Status, inc.ConfidenceScore)
			}
			sb.WriteString("\nApply the policy and decide.")
			return sb.String(), nil
		},
	}
}
