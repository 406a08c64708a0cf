// CLAUDE:SUMMARY Hostile-page heuristics: block/captcha interstitials and login walls, by content markers.
package extract

import "bytes"

// blockMarkers are lowercase substrings that identify throttle and
// block interstitials across the sites we harvest.
var blockMarkers = [][]byte{
	[]byte("captcha"),
	[]byte("access denied"),
	[]byte("too many requests"),
	[]byte("unusual activity"),
	[]byte("verify you are human"),
	[]byte("cf-browser-verification"),
	[]byte("accès refusé"),
	[]byte("trop de requêtes"),
	[]byte("activité inhabituelle"),
}

// loginMarkers identify login walls when the URL alone does not.
var loginMarkers = [][]byte{
	[]byte(`type="password"`),
	[]byte("type='password'"),
	[]byte("sign in to continue"),
	[]byte("connectez-vous pour continuer"),
}

// DetectBlock reports whether rawHTML looks like a block, captcha or
// throttle interstitial rather than real content.
func DetectBlock(rawHTML []byte) bool {
	return containsAny(bytes.ToLower(rawHTML), blockMarkers)
}

// DetectLogin reports whether rawHTML looks like a login wall. Used in
// addition to URL-based login-redirect detection: some sites render the
// form in place without changing the address.
func DetectLogin(rawHTML []byte) bool {
	return containsAny(bytes.ToLower(rawHTML), loginMarkers)
}

func containsAny(haystack []byte, needles [][]byte) bool {
	for _, n := range needles {
		if bytes.Contains(haystack, n) {
			return true
		}
	}
	return false
}
