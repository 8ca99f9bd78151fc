package linkval_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkval"
)

func TestLinkGroupStats_RecordAndSnapshot(t *testing.T) {
	stats := &linkval.LinkGroupStats{}
	stats.Record(200)
	stats.Record(200)
	stats.Record(404)

	assert.EqualValues(t, 2, stats.Get(200))
	assert.EqualValues(t, 1, stats.Get(404))
	assert.EqualValues(t, 0, stats.Get(500))
	assert.EqualValues(t, 3, stats.Total())

	snap := stats.Snapshot()
	assert.Equal(t, map[int]int64{200: 2, 404: 1}, snap)
}

func TestMaxStatusCount(t *testing.T) {
	stats := &linkval.LinkGroupStats{}
	policy := linkval.MaxStatusCount(429, 2)

	for i := 0; i < 2; i++ {
		stats.Record(429)
		assert.True(t, policy(stats).Valid)
	}
	stats.Record(429)
	result := policy(stats)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Message, "429")
}

func TestMinValidCount(t *testing.T) {
	stats := &linkval.LinkGroupStats{}
	policy := linkval.MinValidCount(2)

	result := policy(stats)
	assert.False(t, result.Valid)

	stats.Record(200)
	stats.Record(204)
	result = policy(stats)
	assert.True(t, result.Valid)
}

func TestRandomOrder_PreservesMembership(t *testing.T) {
	links := []linkval.Link{
		linkval.NewResolvedLink("https://example.test/1"),
		linkval.NewResolvedLink("https://example.test/2"),
		linkval.NewResolvedLink("https://example.test/3"),
	}
	transformer := linkval.RandomOrder()
	shuffled := transformer(nil, links)

	require.Len(t, shuffled, len(links))
	want := map[string]bool{}
	for _, l := range links {
		want[l.ResolvedURI] = true
	}
	for _, l := range shuffled {
		assert.True(t, want[l.ResolvedURI])
	}
}
