package vnpay

// FailureReason classifies why a payment did not complete
type FailureReason string

const (
	ReasonNone                 FailureReason = ""
	ReasonSuspectedFraud       FailureReason = "suspected_fraud"
	ReasonNotRegistered        FailureReason = "not_registered"
	ReasonAuthenticationFailed FailureReason = "authentication_failed"
	ReasonSessionExpired       FailureReason = "session_expired"
	ReasonCardLocked           FailureReason = "card_locked"
	ReasonWrongOTP             FailureReason = "wrong_otp"
	ReasonUserCancelled        FailureReason = "user_cancelled"
	ReasonInsufficientFunds    FailureReason = "insufficient_funds"
	ReasonLimitExceeded        FailureReason = "limit_exceeded"
	ReasonIssuerMaintenance    FailureReason = "issuer_maintenance"
	ReasonPasswordRetries      FailureReason = "password_retries_exceeded"
	ReasonGeneric              FailureReason = "generic"

	// Not gateway codes: set by the client when the return could not be classified
	ReasonAmbiguousReturn FailureReason = "ambiguous_return"
)

type codeEntry struct {
	reason  FailureReason
	message string
}

var responseCodes = map[string]codeEntry{
	"07": {ReasonSuspectedFraud, "Payment was debited but flagged as suspicious. Please contact support."},
	"09": {ReasonNotRegistered, "Your card or account is not registered for internet banking."},
	"10": {ReasonAuthenticationFailed, "Card or account verification failed more than 3 times."},
	"11": {ReasonSessionExpired, "The payment session has expired. Please try again."},
	"12": {ReasonCardLocked, "Your card or account is locked."},
	"13": {ReasonWrongOTP, "The one-time password was incorrect."},
	"24": {ReasonUserCancelled, "The transaction was cancelled."},
	"51": {ReasonInsufficientFunds, "Insufficient balance in your account."},
	"65": {ReasonLimitExceeded, "Your account has exceeded its daily transaction limit."},
	"75": {ReasonIssuerMaintenance, "The issuing bank is under maintenance."},
	"79": {ReasonPasswordRetries, "Payment password entered incorrectly too many times."},
	"99": {ReasonGeneric, "The payment failed. Please try again later."},
}

// genericMessage is shown for unlisted codes
const genericMessage = "The payment failed. Please try again later."

// DescribeCode maps a non-success response code to a failure reason and a
// user-facing message. Unlisted codes map to ReasonGeneric.
func DescribeCode(code string) (FailureReason, string) {
	if code == SuccessCode {
		return ReasonNone, "Payment completed successfully."
	}
	if code == "" {
		return ReasonAmbiguousReturn, "We could not confirm the payment result. Your wallet will be updated once the payment is verified."
	}
	if entry, ok := responseCodes[code]; ok {
		return entry.reason, entry.message
	}
	return ReasonGeneric, genericMessage
}

// MessageFor returns the user-facing message of a failure reason
func MessageFor(reason FailureReason) string {
	for _, entry := range responseCodes {
		if entry.reason == reason {
			return entry.message
		}
	}
	if reason == ReasonAmbiguousReturn {
		_, msg := DescribeCode("")
		return msg
	}
	return genericMessage
}
