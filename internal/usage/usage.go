// Package usage provides token usage tracking, cost estimation, and formatting.
package usage

import (
	"fmt"
	"math"
)

// FormatTokenCount formats a token count for display.
func FormatTokenCount(count int64) string {
	if count <= 0 {
		return "0"
	}
	if count >= 1_000_000 {
		return fmt.Sprintf("%.1fm", float64(count)/1_000_000)
	}
	if count >= 10_000 {
		return fmt.Sprintf("%dk", count/1_000)
	}
	if count >= 1_000 {
		return fmt.Sprintf("%.1fk", float64(count)/1_000)
	}
	return fmt.Sprintf("%d", count)
}

// FormatUSD formats a dollar amount for display.
func FormatUSD(amount float64) string {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ""
	}
	if amount >= 1 {
		return fmt.Sprintf("$%.2f", amount)
	}
	if amount >= 0.01 {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("$%.4f", amount)
}

// FormatUsage formats an input/output token pair for display, the way
// a job-summary log line reports a step's cost.
func FormatUsage(inputTokens, outputTokens int) string {
	total := int64(inputTokens) + int64(outputTokens)
	return FormatTokenCount(total) + " tokens"
}

// FormatUsageDetailed formats an input/output token pair with a
// breakdown, e.g. "1.5k (in: 1.0k, out: 500)".
func FormatUsageDetailed(inputTokens, outputTokens int) string {
	if inputTokens == 0 && outputTokens == 0 {
		return "No usage"
	}
	parts := []string{}
	if inputTokens > 0 {
		parts = append(parts, fmt.Sprintf("in: %s", FormatTokenCount(int64(inputTokens))))
	}
	if outputTokens > 0 {
		parts = append(parts, fmt.Sprintf("out: %s", FormatTokenCount(int64(outputTokens))))
	}
	total := int64(inputTokens) + int64(outputTokens)
	return fmt.Sprintf("%s (%s)", FormatTokenCount(total), joinParts(parts))
}

func joinParts(parts []string) string {
	result := ""
	for i, p := range parts {
		if i > 0 {
			result += ", "
		}
		result += p
	}
	return result
}
