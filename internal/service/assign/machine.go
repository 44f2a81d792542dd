package assign

import (
	"strings"

	"sewline/internal/constants"
)

func normalizeMachine(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")
	return name
}

// synonymGroup returns the set of names interchangeable with the given
// machine type, always including the name itself.
func synonymGroup(name string) map[string]bool {
	group := map[string]bool{name: true}
	for _, syns := range constants.MachineSynonyms {
		matched := false
		for _, s := range syns {
			if s == name {
				matched = true
				break
			}
		}
		if matched {
			for _, s := range syns {
				group[s] = true
			}
		}
	}
	return group
}

// machinesCompatible checks the required machine type against the operator's
// configured set: exact match, a recognized synonym, or the universal
// multi-machine capability.
func machinesCompatible(required string, operatorMachines []string) bool {
	group := synonymGroup(normalizeMachine(required))

	for _, m := range operatorMachines {
		n := normalizeMachine(m)
		if n == constants.MultiMachine {
			return true
		}
		if group[n] {
			return true
		}
	}
	return false
}
