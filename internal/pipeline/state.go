package pipeline

// State is one step of the per-request state machine. Every request that
// reaches the pipeline passes through a prefix of the total order below;
// a rejection or failure stops strictly at the state that detected it.
type State string

const (
	Received                  State = "RECEIVED"
	Authenticating             State = "AUTHENTICATING"
	Authenticated              State = "AUTHENTICATED"
	Estimating                 State = "ESTIMATING"
	LimitCheck                 State = "LIMIT_CHECK"
	Admitted                   State = "ADMITTED"
	ResolvingProviderCredential State = "RESOLVING_PROVIDER_CREDENTIAL"
	CallingProvider             State = "CALLING_PROVIDER"
	Parsing                     State = "PARSING"
	Scoring                     State = "SCORING"
	Accounting                  State = "ACCOUNTING"
	Done                        State = "DONE"

	AuthFailed State = "AUTH_FAILED"
	Rejected   State = "REJECTED"
)
