package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/chart-publisher/internal/domain/release"
)

// TestPlan_BootstrapReturnsLatest ignores the catalog when no index exists.
func TestPlan_BootstrapReturnsLatest(t *testing.T) {
	t.Parallel()

	latest := map[string]string{"app": "1.1.0", "tagged-only": "0.1.0"}
	declared := map[string]string{"app": "1.1.0", "untagged": "3.0.0"}

	plan := Plan(latest, declared, false)
	require.Equal(t, release.Plan(latest), plan)

	// The plan is a copy.
	plan["app"] = "9.9.9"
	require.Equal(t, "1.1.0", latest["app"])

	require.Empty(t, Plan(nil, declared, false))
}

// TestPlan_TagVersionWins plans the tagged version when the manifest differs.
func TestPlan_TagVersionWins(t *testing.T) {
	t.Parallel()

	declared := map[string]string{"app": "1.0.0"}

	require.Equal(t, release.Plan{"app": "1.1.0"}, Plan(map[string]string{"app": "1.1.0"}, declared, true))
	require.Empty(t, Plan(map[string]string{"app": "1.0.0"}, declared, true))

	// A tag lower than the manifest still wins.
	require.Equal(t, release.Plan{"app": "0.9.0"}, Plan(map[string]string{"app": "0.9.0"}, declared, true))
}

// TestPlan_SkipsUntaggedAndUnknown checks both sides of the name intersection.
func TestPlan_SkipsUntaggedAndUnknown(t *testing.T) {
	t.Parallel()

	latest := map[string]string{"api": "2.0.0", "orphan": "1.0.0", "worker": "0.3.0"}
	declared := map[string]string{"api": "1.9.0", "new-chart": "0.1.0", "worker": "0.3.0"}

	require.Equal(t, release.Plan{"api": "2.0.0"}, Plan(latest, declared, true))
}
