package compat

// DeriveMacros maps facts and requested flags to define tokens ("-DNAME=1")
// in rule table order. The result depends only on its inputs.
func DeriveMacros(rules *RuleSet, facts Facts, flagEnabled func(name string) bool) []string {
	macros := make([]string, 0, len(rules.Rules))
	seen := make(map[string]bool, len(rules.Rules))

	for _, r := range rules.Rules {
		var on bool
		if r.IsFlag() {
			on = flagEnabled != nil && flagEnabled(r.Flag)
		} else {
			on = facts.Has(r.Fact)
		}
		if !on {
			continue
		}
		define := r.Define()
		if seen[define] {
			continue
		}
		seen[define] = true
		macros = append(macros, define)
	}

	return macros
}
