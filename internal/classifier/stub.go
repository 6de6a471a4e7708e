package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360studio/caseworker/internal/model"
)

// Stub is a deterministic, keyword-driven Port implementation used in
// tests and local development where no external model is configured. It
// never calls out to a network.
type Stub struct{}

// NewStub returns a ready-to-use Stub.
func NewStub() *Stub { return &Stub{} }

// Classify applies simple keyword heuristics so test scenarios can
// exercise every Planner rule without a live model dependency.
func (s *Stub) Classify(ctx context.Context, subject, body string) (*model.Analysis, error) {
	text := strings.ToLower(subject + " " + body)
	a := &model.Analysis{
		Intent:     "general_response",
		Sentiment:  "neutral",
		Confidence: 0.75,
	}

	switch {
	case strings.Contains(text, "fee") || strings.Contains(text, "$"):
		a.Intent = "fee_notice"
		if amt, ok := extractDollarAmount(text); ok {
			a.ExtractedFeeAmount = &amt
		}
	case strings.Contains(text, "exempt"):
		a.Intent = "exemption_claim"
		a.ConstraintsDetected = append(a.ConstraintsDetected, "EXEMPTION")
		a.ExemptionCitationCount = strings.Count(text, "exempt")
	case strings.Contains(text, "denied") || strings.Contains(text, "no records"):
		a.Intent = "denial"
		a.ConstraintsDetected = append(a.ConstraintsDetected, "NOT_HELD")
	case strings.Contains(text, "clarif"):
		a.Intent = "clarification_request"
	case strings.Contains(text, "portal"):
		a.Intent = "portal_required"
	default:
		a.Intent = "acknowledgement"
	}
	return a, nil
}

// Draft renders a minimal templated message for the given action type.
func (s *Stub) Draft(ctx context.Context, action model.ActionType, dc DraftContext) (*model.Draft, error) {
	subject := fmt.Sprintf("Re: Public Records Request (%s)", dc.CaseID)
	body := fmt.Sprintf("Regarding case %s: action %s.", dc.CaseID, action)
	if dc.Instruction != "" {
		body += "\n\n" + dc.Instruction
	}
	return &model.Draft{Subject: subject, BodyText: body, BodyHTML: "<p>" + body + "</p>"}, nil
}

func extractDollarAmount(text string) (float64, bool) {
	idx := strings.Index(text, "$")
	if idx == -1 || idx+1 >= len(text) {
		return 0, false
	}
	end := idx + 1
	for end < len(text) && (text[end] == '.' || (text[end] >= '0' && text[end] <= '9')) {
		end++
	}
	var amt float64
	if _, err := fmt.Sscanf(text[idx+1:end], "%f", &amt); err != nil {
		return 0, false
	}
	return amt, true
}
