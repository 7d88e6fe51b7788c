package twitter

import (
	"fmt"
	"slices"
	"strings"

	"orbot/internal/types"
)

const (
	rulePrefix    = "(from:"
	ruleConnector = " OR from:"
	rulePostfix   = ") has:media"

	DefaultMaxRuleLength = 512
)

// CompileRules packs account ids into "(from:a OR from:b) has:media" rules.
// Each rule is filled greedily before the next is started and none exceeds
// maxLen. Empty and repeated ids are skipped.
func CompileRules(ids []string, maxLen int) ([]string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxRuleLength
	}
	overhead := len(rulePrefix) + len(rulePostfix)

	var rules []string
	var current strings.Builder
	seen := make(map[string]struct{}, len(ids))

	flush := func() {
		if current.Len() > 0 {
			rules = append(rules, rulePrefix+current.String()+rulePostfix)
			current.Reset()
		}
	}

	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if overhead+len(id) > maxLen {
			return nil, types.NewConfigError("twitter.max_rule_length",
				fmt.Sprintf("id %q does not fit in a %d character rule", id, maxLen))
		}

		if current.Len() > 0 && overhead+current.Len()+len(ruleConnector)+len(id) > maxLen {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(ruleConnector)
		}
		current.WriteString(id)
	}
	flush()

	return rules, nil
}

// SameRules reports whether two rule sets hold the same values, ignoring order.
func SameRules(remote []Rule, local []string) bool {
	if len(remote) != len(local) {
		return false
	}
	values := make([]string, 0, len(remote))
	for _, r := range remote {
		values = append(values, r.Value)
	}
	slices.Sort(values)
	sorted := slices.Clone(local)
	slices.Sort(sorted)
	return slices.Equal(values, sorted)
}
