package work

import "strings"

const (
	RoleExplore  = "Explore"
	RolePlan     = "Plan"
	RoleWebFetch = "WebFetch"
	RoleReadOnly = "ReadOnly"
	RoleGeneral  = "general-purpose"
)

type roleRule struct {
	role     string
	keywords []string
}

// roleRules are checked in order; the first rule with a matching keyword wins.
var roleRules = []roleRule{
	{RoleExplore, []string{"explore", "find", "search", "locate", "warmup"}},
	{RolePlan, []string{"plan", "design", "architect", "strategy"}},
	{RoleWebFetch, []string{"fetch", "scrape", "download", "retrieve url"}},
	{RoleReadOnly, []string{"read-only", "readonly"}},
}

var selfDescriptionIndicators = []string{
	"i'm ready",
	"i understand",
	"i can",
	"my tools",
	"read-only mode",
	"i have access to",
}

// InferRoleType classifies an agent from its request and, when present, its
// self-description. Matching is by substring on the lowercased text.
func InferRoleType(request, selfDescription string) string {
	if request == "" && selfDescription == "" {
		return RoleGeneral
	}
	text := strings.ToLower(request + " " + selfDescription)
	for _, rule := range roleRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.role
			}
		}
	}
	return RoleGeneral
}

func isSelfDescription(text string) bool {
	lower := strings.ToLower(text)
	for _, ind := range selfDescriptionIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}
