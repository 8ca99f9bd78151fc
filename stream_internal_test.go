package linkval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- invariant 1: group routing, first-match-wins ---

func TestInvariant_GroupRouting(t *testing.T) {
	stream := NewLinkStream(nil, nil, nil)

	g1, err := stream.Group(`^https://api\.example\.test/`)
	require.NoError(t, err)
	stream, err = g1.EndGroup()
	require.NoError(t, err)

	g2, err := stream.Group(`^https://api\.example\.test/v2/`)
	require.NoError(t, err)
	stream, err = g2.EndGroup()
	require.NoError(t, err)

	req := stream.createRequest(NewResolvedLink("https://api.example.test/v2/widgets"), 1)
	assert.Equal(t, `^https://api\.example\.test/`, req.Group.Pattern.String())

	req = stream.createRequest(NewResolvedLink("https://other.test/"), 1)
	assert.Equal(t, `.*`, req.Group.Pattern.String())
}

// --- invariant 2: sentinel stability ---

func TestInvariant_SentinelStability(t *testing.T) {
	stream := NewLinkStream(nil, nil, nil)
	for _, pattern := range []string{"^a", "^b", "^c"} {
		g, err := stream.Group(pattern)
		require.NoError(t, err)
		stream, err = g.EndGroup()
		require.NoError(t, err)
	}
	groups := stream.groups
	require.NotEmpty(t, groups)
	assert.Equal(t, `.*`, groups[len(groups)-1].Pattern.String())
	assert.Equal(t, "^c", groups[len(groups)-2].Pattern.String())
}

// --- invariant 3: immutability ---

func TestInvariant_Immutability(t *testing.T) {
	base := NewLinkStream(nil, nil, nil)
	withRetries := base.RetryAttempts(5)

	assert.NotSame(t, base, withRetries)
	assert.Equal(t, 1, base.retryAttemptsN)
	assert.Equal(t, 5, withRetries.retryAttemptsN)
}
