package candidate

// FetchOutcome is the normalised result of one detail-page fetch. Every
// path through the fetcher produces one, success or not, so the rate
// limiter and the session counters always see the same shape.
type FetchOutcome struct {
	URL           string   `json:"url"`
	Success       bool     `json:"success"`
	Profile       *Profile `json:"profile,omitempty"`
	LoginRedirect bool     `json:"login_redirect,omitempty"` // landed on a login page mid-session
	Blocked       bool     `json:"blocked,omitempty"`        // interstitial, captcha or block page
	Status        int      `json:"status,omitempty"`         // HTTP status when known, 0 otherwise
	RequestMS     int64    `json:"request_ms"`
	ExtractMS     int64    `json:"extract_ms,omitempty"`
	Err           string   `json:"err,omitempty"`
}

// Hostile reports whether the outcome signals the site is pushing back:
// throttling, access denial, block pages or a login redirect. Hostile
// outcomes trip the limiter's circuit breaker immediately.
func (o *FetchOutcome) Hostile() bool {
	return o.Status == 429 || o.Status == 403 || o.Blocked || o.LoginRedirect
}

// Throttled reports an explicit HTTP 429.
func (o *FetchOutcome) Throttled() bool { return o.Status == 429 }
