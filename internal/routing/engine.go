package routing

import (
	"fmt"
	"sort"
	"strings"
)

// sentinelRole is the hard-coded fallback used by normalize_role when
// neither the candidate role nor any configured default is usable.
const sentinelRole = "ctrl^core"

// Issue is the subset of an inbound issue event needed to route it.
type Issue struct {
	Labels []string
	Title  string
	Body   string
}

// PRFeedback is the subset of an inbound PR-feedback event needed to route
// it, including the changed file paths fetched separately via the forge
// client (spec.md §4.3: "fetched via Forge Client").
type PRFeedback struct {
	Labels       []string
	Title        string
	Body         string
	ChangedPaths []string
}

func lowerAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}

func labelSet(labels []string) map[string]bool {
	set := make(map[string]bool, len(labels))
	for _, l := range lowerAll(labels) {
		set[l] = true
	}
	return set
}

func anyLabelMatches(candidates []string, have map[string]bool) bool {
	for _, c := range lowerAll(candidates) {
		if have[c] {
			return true
		}
	}
	return false
}

func anySubstringMatches(needles []string, haystack string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range lowerAll(needles) {
		if n != "" && strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

func anyPathMatches(patterns, paths []string) bool {
	lowerPatterns := lowerAll(patterns)
	for _, p := range lowerAll(paths) {
		for _, pat := range lowerPatterns {
			if pat != "" && strings.Contains(p, pat) {
				return true
			}
		}
	}
	return false
}

// RouteIssue implements route_issue from spec.md §4.3.
func RouteIssue(issue Issue, cfg *Config) (role string, confident bool, reason string) {
	have := labelSet(issue.Labels)

	matched := map[string]bool{}
	for _, rule := range cfg.Rules {
		if anyLabelMatches(rule.AnyLabels, have) ||
			anySubstringMatches(rule.TitleContains, issue.Title) ||
			anySubstringMatches(rule.BodyContains, issue.Body) {
			matched[rule.Role] = true
		}
	}

	switch len(matched) {
	case 0:
		return cfg.DefaultRole, false, "no routing rule matched"
	case 1:
		var only string
		for r := range matched {
			only = r
		}
		if only == cfg.DefaultRole {
			return cfg.DefaultRole, false, "matched default triage role"
		}
		return only, true, "single confident role match"
	default:
		roles := make([]string, 0, len(matched))
		for r := range matched {
			roles = append(roles, r)
		}
		sort.Strings(roles)
		return cfg.DefaultRole, false, fmt.Sprintf("ambiguous role matches: %s", strings.Join(roles, ", "))
	}
}

// RoutePRFeedback implements route_pr_feedback from spec.md §4.3: the first
// matching pr_rule (in config order) wins; otherwise default_pr_role.
func RoutePRFeedback(feedback PRFeedback, cfg *Config) string {
	have := labelSet(feedback.Labels)

	for _, rule := range cfg.PRRules {
		if anyLabelMatches(rule.AnyLabels, have) ||
			anyPathMatches(rule.AnyPaths, feedback.ChangedPaths) ||
			anySubstringMatches(rule.TitleContains, feedback.Title) ||
			anySubstringMatches(rule.BodyContains, feedback.Body) {
			return rule.Role
		}
	}
	return cfg.DefaultPRRole
}

// NormalizeRole implements normalize_role from spec.md §4.3.
func NormalizeRole(role string, cfg *Config, isPR bool) string {
	fallback := cfg.DefaultRole
	if isPR {
		fallback = cfg.DefaultPRRole
	}

	known := cfg.KnownRoles()
	if role == "" || !known[role] {
		if fallback != "" {
			return fallback
		}
		return sentinelRole
	}
	return role
}
