package domain

// FlowState is a step of the authorization-code flow. It is derived per
// request and never held across requests.
type FlowState string

const (
	FlowIdle             FlowState = "idle"
	FlowAwaitingCallback FlowState = "awaiting_callback"
	FlowExchanging       FlowState = "exchanging"
	FlowConnected        FlowState = "connected"
)

// FailureReason is the machine-readable cause of a flow returning to Idle
type FailureReason string

const (
	ReasonNone           FailureReason = ""
	ReasonProviderDenied FailureReason = "ProviderDenied"
	ReasonMissingCode    FailureReason = "MissingCode"
	ReasonInvalidState   FailureReason = "InvalidState"
	ReasonStateExpired   FailureReason = "StateExpired"
	ReasonExchangeFailed FailureReason = "ExchangeFailed"
	ReasonStorageFailed  FailureReason = "StorageFailed"
)

// QueryValue returns the value used in the frontend redirect query string
func (r FailureReason) QueryValue() string {
	switch r {
	case ReasonProviderDenied:
		return "oauth_failed"
	case ReasonMissingCode:
		return "no_code"
	case ReasonInvalidState:
		return "invalid_state"
	case ReasonStateExpired:
		return "state_expired"
	case ReasonExchangeFailed:
		return "token_exchange_failed"
	case ReasonStorageFailed:
		return "token_save_failed"
	default:
		return "callback_failed"
	}
}

// CallbackResult is the outcome of handling the provider redirect
type CallbackResult struct {
	Success bool          `json:"success"`
	State   FlowState     `json:"state"`
	Reason  FailureReason `json:"reason,omitempty"`
	UserID  string        `json:"-"`
}

// Connected returns a successful callback result
func Connected(userID string) *CallbackResult {
	return &CallbackResult{Success: true, State: FlowConnected, UserID: userID}
}

// Failed returns a callback result that sends the flow back to Idle
func Failed(reason FailureReason) *CallbackResult {
	return &CallbackResult{State: FlowIdle, Reason: reason}
}
