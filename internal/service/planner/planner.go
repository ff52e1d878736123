package planner

import (
	"maps"

	"github.com/oshokin/chart-publisher/internal/domain/release"
)

// Plan reconciles the latest tagged versions with the declared chart versions.
//
// declared maps manifest names to the versions found in the catalog. When no
// index has been published yet the plan is latest itself, whatever the
// catalog says. Otherwise a chart is planned when it has a tag and its
// declared version differs from the tagged one; the tagged version is the
// one to build. Charts that were never tagged are not planned.
func Plan(latest, declared map[string]string, indexExists bool) release.Plan {
	if !indexExists {
		return release.Plan(maps.Clone(latest))
	}

	plan := make(release.Plan)

	for name, declaredVersion := range declared {
		tagged, ok := latest[name]
		if !ok {
			continue
		}

		if declaredVersion != tagged {
			plan[name] = tagged
		}
	}

	return plan
}
