// Package classify maps raw venue/transport failures onto the retry taxonomy.
package classify

import "strings"

// Category is the failure taxonomy bucket.
type Category string

const (
	Timeout   Category = "TIMEOUT"
	RateLimit Category = "RATE_LIMIT"
	Oracle    Category = "ORACLE"
	RPC       Category = "RPC"
	Margin    Category = "MARGIN"
	Protocol  Category = "PROTOCOL"
	Unknown   Category = "UNKNOWN"
)

// Classification is the category plus the retryability verdict under normal backoff.
type Classification struct {
	Category  Category
	Retryable bool
}

// Pattern tables, matched against the lowercased error text. Order of the
// category checks in Classify is significant: error texts can match several
// tables, and TIMEOUT must win because it is the only category eligible for
// the cooldown requeue.
var (
	timeoutPatterns = []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"confirmation not received",
	}
	oraclePatterns = []string{
		"stale price",
		"oracle",
		"price feed",
		"invalid price",
	}
	rpcPatterns = []string{
		"connection reset",
		"connection refused",
		"connection terminated",
		"connection closed",
		"econnreset",
		"socket hang up",
		"bad gateway",
		"service unavailable",
		"502",
		"503",
	}
	rateLimitPatterns = []string{
		"rate limit",
		"rate-limit",
		"too many requests",
		"please wait",
		"429",
	}
	marginPatterns = []string{
		"insufficient funds",
		"insufficient collateral",
		"insufficient margin",
		"insufficient balance",
		"margin requirement",
	}
	protocolPatterns = []string{
		"account not found",
		"market not found",
		"unknown market",
		"invalid order",
		"invalid instruction",
		"custom program error",
		"reduce only",
	}
)

// Classify maps an error to a taxonomy category and retry verdict.
// MARGIN is not retryable (retrying without new funds cannot succeed),
// PROTOCOL is not retryable (misconfiguration, not a transient condition),
// UNKNOWN fails closed rather than looping on an unrecognized condition.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Category: Unknown}
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage classifies a raw failure message.
func ClassifyMessage(msg string) Classification {
	s := strings.ToLower(msg)

	switch {
	case matchesAny(s, timeoutPatterns):
		return Classification{Category: Timeout, Retryable: true}
	case matchesAny(s, oraclePatterns):
		return Classification{Category: Oracle, Retryable: true}
	case matchesAny(s, rpcPatterns):
		return Classification{Category: RPC, Retryable: true}
	case matchesAny(s, rateLimitPatterns):
		return Classification{Category: RateLimit, Retryable: true}
	case matchesAny(s, marginPatterns):
		return Classification{Category: Margin}
	case matchesAny(s, protocolPatterns):
		return Classification{Category: Protocol}
	default:
		return Classification{Category: Unknown}
	}
}

func matchesAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
