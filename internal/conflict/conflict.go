// Package conflict decides whether an operation recorded offline may still be
// applied after the server copy of the order has changed.
package conflict

import (
	"strings"

	"kasirinaja/terminal/internal/domain"
)

// ShouldReject reports whether the local operation loses against the server state.
// Equal timestamps are accepted. Unknown rules behave like reject_if_server_newer.
func ShouldReject(r domain.ConflictResolution) bool {
	if r.Rule == domain.RuleForceApply {
		return false
	}
	return r.ServerUpdatedAt.After(r.LocalOperationAt)
}

func ParseRule(raw string) domain.ConflictRule {
	switch domain.ConflictRule(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.RuleForceApply:
		return domain.RuleForceApply
	default:
		return domain.RuleRejectIfServerNewer
	}
}
