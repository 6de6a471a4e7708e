// Package classifier defines the ClassifierPort the InboundPipeline calls
// to turn a raw inbound message into structured Analysis, and to draft
// outbound text for a chosen ActionType. Design Notes §9 calls for this
// boundary to be an injected Go interface rather than a global test hook
// (the original system's "global.__E2E_LLM_STUBS__"), so callers can swap
// in a deterministic stub under test and a real model-backed
// implementation in production.
package classifier

import (
	"context"

	"github.com/c360studio/caseworker/internal/model"
)

// Port is the capability the InboundPipeline and Planner depend on for
// natural-language understanding and generation. It has no knowledge of
// cases, proposals, or persistence — only text in, structured data out.
type Port interface {
	// Classify extracts intent, sentiment, confidence, and structured
	// signals from an inbound message's text (spec.md §4.5 classify step).
	Classify(ctx context.Context, subject, body string) (*model.Analysis, error)
	// Draft composes outbound subject/body text for the given action type
	// and case context (spec.md §4.6 draft assembly).
	Draft(ctx context.Context, action model.ActionType, context DraftContext) (*model.Draft, error)
}

// DraftContext carries the case facts a Draft call needs without handing
// the classifier the whole persistence layer.
type DraftContext struct {
	CaseID         string
	AgencyEmail    string
	ScopeSummary   string
	LastInboundText string
	FeeAmount      *float64
	Instruction    string // human ADJUST instruction, if any
}
