package vnpay

import (
	"net/url"
	"strings"
)

// ReturnKind tells which flow a return URL belongs to
type ReturnKind string

const (
	ReturnNone    ReturnKind = ""
	ReturnTopUp   ReturnKind = "topup"
	ReturnOrder   ReturnKind = "order"
	ReturnUnknown ReturnKind = "unknown" // carries a response code but no known path
)

// ReturnMatcher recognises gateway return URLs.
// Paths are matched as substrings of host and path together, so both
// "https://api.example.com/api/coins/vnpay-return" and the custom scheme
// "app://coins/vnpay-return" (where "coins" parses as the host) match
// "coins/vnpay-return".
type ReturnMatcher struct {
	TopUpPath     string
	OrderPath     string
	ResponseParam string
}

// NewReturnMatcher builds the default matcher for a gateway name ("vnpay")
func NewReturnMatcher(gateway string) ReturnMatcher {
	gateway = strings.ToLower(strings.TrimSpace(gateway))
	if gateway == "" {
		gateway = "vnpay"
	}
	return ReturnMatcher{
		TopUpPath:     "coins/" + gateway + "-return",
		OrderPath:     "orders/" + gateway + "-return",
		ResponseParam: ParamResponseCode,
	}
}

// Match classifies a URL. ReturnNone means the URL should load normally.
func (m ReturnMatcher) Match(raw string) ReturnKind {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ReturnNone
	}

	path := raw
	if u, err := url.Parse(raw); err == nil {
		path = u.Host + u.Path
	} else if idx := strings.IndexAny(raw, "?#"); idx >= 0 {
		path = raw[:idx]
	}
	path = strings.ToLower(path)

	switch {
	case m.TopUpPath != "" && strings.Contains(path, strings.ToLower(m.TopUpPath)):
		return ReturnTopUp
	case m.OrderPath != "" && strings.Contains(path, strings.ToLower(m.OrderPath)):
		return ReturnOrder
	}

	param := m.ResponseParam
	if param == "" {
		param = ParamResponseCode
	}
	params := ParseCallbackURL(raw)
	for _, name := range []string{param, aliasResponseCode} {
		if _, ok := params[name]; ok {
			return ReturnUnknown
		}
	}
	return ReturnNone
}
