package model

// ActionType is the closed enumeration of what a Proposal can do.
// See spec.md §4.6.
type ActionType string

const (
	ActionSendInitialRequest    ActionType = "SEND_INITIAL_REQUEST"
	ActionSendFollowup          ActionType = "SEND_FOLLOWUP"
	ActionSendClarification     ActionType = "SEND_CLARIFICATION"
	ActionSendRebuttal          ActionType = "SEND_REBUTTAL"
	ActionSendAppeal            ActionType = "SEND_APPEAL"
	ActionRespondPartialApprove ActionType = "RESPOND_PARTIAL_APPROVAL"
	ActionAcceptFee             ActionType = "ACCEPT_FEE"
	ActionNegotiateFee          ActionType = "NEGOTIATE_FEE"
	ActionDeclineFee            ActionType = "DECLINE_FEE"
	ActionSendFeeWaiverRequest  ActionType = "SEND_FEE_WAIVER_REQUEST"
	ActionEscalate              ActionType = "ESCALATE"
	ActionResearchAgency        ActionType = "RESEARCH_AGENCY"
	ActionReformulateRequest    ActionType = "REFORMULATE_REQUEST"
	ActionSubmitPortal          ActionType = "SUBMIT_PORTAL"
	ActionSendPDFEmail          ActionType = "SEND_PDF_EMAIL"
	ActionSendStatusUpdate      ActionType = "SEND_STATUS_UPDATE"
	ActionCloseCase             ActionType = "CLOSE_CASE"
	ActionWithdraw              ActionType = "WITHDRAW"
	ActionNone                  ActionType = "NONE"
)

// GateOption is a human decision available on a gated Proposal.
type GateOption string

const (
	GateApprove      GateOption = "APPROVE"
	GateAdjust       GateOption = "ADJUST"
	GateDismiss      GateOption = "DISMISS"
	GateRetryResearch GateOption = "RETRY_RESEARCH"
)

// sendsEmail is the set of ActionTypes that the Executor fulfills by
// composing and sending an outbound email. Used by the Executor's tagged
// dispatch (Design Notes §9: "tagged variant ... invalid actions are
// unrepresentable").
var sendsEmail = map[ActionType]bool{
	ActionSendInitialRequest:    true,
	ActionSendFollowup:          true,
	ActionSendClarification:     true,
	ActionSendRebuttal:          true,
	ActionSendAppeal:            true,
	ActionRespondPartialApprove: true,
	ActionAcceptFee:             true,
	ActionNegotiateFee:          true,
	ActionDeclineFee:            true,
	ActionSendFeeWaiverRequest:  true,
	ActionSendStatusUpdate:      true,
}

// SendsEmail reports whether executing this action type means sending an
// outbound email message.
func (a ActionType) SendsEmail() bool { return sendsEmail[a] }

// DefaultGateOptions returns the gate_options Planner typically attaches
// for this action type (spec.md §4.6). Planner may narrow this set based
// on case context; this is the baseline.
func (a ActionType) DefaultGateOptions() []GateOption {
	switch a {
	case ActionSubmitPortal:
		return []GateOption{GateApprove, GateDismiss, GateRetryResearch}
	case ActionSendRebuttal, ActionSendAppeal:
		return []GateOption{GateApprove, GateAdjust, GateDismiss}
	case ActionEscalate:
		return []GateOption{GateApprove, GateDismiss}
	default:
		return []GateOption{GateApprove, GateAdjust, GateDismiss}
	}
}
