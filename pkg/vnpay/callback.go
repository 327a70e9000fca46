package vnpay

import (
	"net/url"
	"strconv"
	"strings"
)

// Query parameter names used by the gateway on its return redirect
const (
	ParamResponseCode      = "vnp_ResponseCode"
	ParamTxnRef            = "vnp_TxnRef"
	ParamAmount            = "vnp_Amount"
	ParamTransactionNo     = "vnp_TransactionNo"
	ParamTransactionStatus = "vnp_TransactionStatus"
	ParamBankCode          = "vnp_BankCode"
	ParamSecureHash        = "vnp_SecureHash"

	// Aliases our own backend uses when it re-issues the redirect
	aliasResponseCode = "responseCode"
	aliasTxnRef       = "transactionReference"
)

// SuccessCode is the only response code that denotes a completed payment
const SuccessCode = "00"

// Callback is the flat set of query parameters carried by a gateway return URL.
// Repeated keys keep their first value.
type Callback map[string]string

// ParseCallbackURL extracts the query parameters of a return URL.
// It never fails: malformed or partial input yields an empty or partial map.
func ParseCallbackURL(raw string) Callback {
	cb := Callback{}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return cb
	}

	query := raw
	if idx := strings.Index(raw, "?"); idx >= 0 {
		query = raw[idx+1:]
	} else if !strings.Contains(raw, "=") {
		return cb
	}
	if idx := strings.Index(query, "#"); idx >= 0 {
		query = query[:idx]
	}

	// Pair by pair: a bad escape only drops its own pair.
	for _, pair := range strings.FieldsFunc(query, func(r rune) bool { return r == '&' || r == ';' }) {
		key, value, _ := strings.Cut(pair, "=")
		k, err := url.QueryUnescape(key)
		if err != nil || k == "" {
			continue
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			v = value
		}
		if _, exists := cb[k]; !exists {
			cb[k] = v
		}
	}

	return cb
}

// ResponseCode returns the gateway status code, or "" if absent
func (c Callback) ResponseCode() string {
	if v := c[ParamResponseCode]; v != "" {
		return v
	}
	return c[aliasResponseCode]
}

// HasResponseCode reports whether the URL carried any response code
func (c Callback) HasResponseCode() bool {
	return c.ResponseCode() != ""
}

// IsSuccess reports whether the gateway reported a completed payment
func (c Callback) IsSuccess() bool {
	return c.ResponseCode() == SuccessCode
}

// TransactionReference returns the merchant-side transaction reference
func (c Callback) TransactionReference() string {
	if v := c[ParamTxnRef]; v != "" {
		return v
	}
	return c[aliasTxnRef]
}

// GatewayTransactionNo returns the gateway-side transaction number
func (c Callback) GatewayTransactionNo() string {
	return c[ParamTransactionNo]
}

// Amount returns the paid amount in currency units.
// The gateway sends amounts multiplied by 100.
func (c Callback) Amount() (int64, bool) {
	raw := c[ParamAmount]
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v / 100, true
}

// Params returns a copy of the parameters suitable for forwarding
func (c Callback) Params() map[string]string {
	out := make(map[string]string, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
