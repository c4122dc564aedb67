package httpapi

import (
	"net/url"
	"regexp"

	"inspectfleet/internal/apierr"
	"inspectfleet/internal/core/session"
)

// csgoEconActionPattern matches the csgo_econ_action_preview query
// embedded in a steam:// inspect link, in both the S...A...D... (owner)
// and M...A...D... (market) forms.
var csgoEconActionPattern = regexp.MustCompile(`[SM](\d+)A(\d+)D(\d+)`)

// parseLink accepts either a pre-formed inspect URL or discrete s/a/d/m
// query parameters and returns the triple they identify.
func parseLink(rawLink, s, a, d, m string) (session.Triple, *apierr.Error) {
	if rawLink != "" {
		return parseInspectURL(rawLink)
	}

	if a == "" || d == "" || (s == "" && m == "") {
		return session.Triple{}, apierr.New(apierr.InvalidInspect, "missing required inspect parameters")
	}
	return session.Triple{S: s, A: a, D: d, M: m}, nil
}

func parseInspectURL(raw string) (session.Triple, *apierr.Error) {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		decoded = raw
	}

	loc := csgoEconActionPattern.FindStringSubmatchIndex(decoded)
	if loc == nil {
		return session.Triple{}, apierr.New(apierr.InvalidInspect, "unparseable inspect link")
	}

	owner := decoded[loc[2]:loc[3]]
	assetID := decoded[loc[4]:loc[5]]
	d := decoded[loc[6]:loc[7]]

	if decoded[loc[0]] == 'M' {
		return session.Triple{M: owner, A: assetID, D: d}, nil
	}
	return session.Triple{S: owner, A: assetID, D: d}, nil
}
