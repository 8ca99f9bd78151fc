package linkval

import (
	"fmt"
	"math/rand"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
)

// LinkGroupStats is a thread-safe mapping from HTTP status code to
// occurrence count, shared by every request routed to one LinkGroup.
type LinkGroupStats struct {
	counts sync.Map // int(statusCode) -> *atomic.Int64
}

// Record increments the counter for statusCode by one.
func (s *LinkGroupStats) Record(statusCode int) {
	s.Count(statusCode, 1)
}

// Count adds delta to the counter for statusCode, creating it if
// necessary.
func (s *LinkGroupStats) Count(statusCode int, delta int64) {
	v, _ := s.counts.LoadOrStore(statusCode, new(atomic.Int64))
	v.(*atomic.Int64).Add(delta)
}

// Get returns the current count for statusCode, or 0 if never recorded.
func (s *LinkGroupStats) Get(statusCode int) int64 {
	v, ok := s.counts.Load(statusCode)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Total returns the sum of every status code's count, a consistent
// snapshot at the instant it is taken.
func (s *LinkGroupStats) Total() int64 {
	var total int64
	s.counts.Range(func(_, v any) bool {
		total += v.(*atomic.Int64).Load()
		return true
	})
	return total
}

// Snapshot returns a point-in-time copy of every recorded status code
// and its count.
func (s *LinkGroupStats) Snapshot() map[int]int64 {
	out := make(map[int]int64)
	s.counts.Range(func(k, v any) bool {
		out[k.(int)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// AggregatePolicyResult is the outcome of evaluating an AggregatePolicy
// against a group's statistics.
type AggregatePolicyResult struct {
	Valid   bool
	Message string
}

// AggregatePolicy is a pure function over a group's statistics, used
// both as a continuation policy (evaluated before each request) and a
// final policy (evaluated once after the retry loop drains).
type AggregatePolicy func(stats *LinkGroupStats) AggregatePolicyResult

// MaxStatusCount builds a policy that fails once statusCode has been
// observed more than max times.
func MaxStatusCount(statusCode int, max int64) AggregatePolicy {
	return func(stats *LinkGroupStats) AggregatePolicyResult {
		if n := stats.Get(statusCode); n > max {
			return AggregatePolicyResult{
				Valid:   false,
				Message: fmt.Sprintf("status %d observed %d times, exceeding the limit of %d", statusCode, n, max),
			}
		}
		return AggregatePolicyResult{Valid: true}
	}
}

// MinValidCount builds a policy that fails unless at least min
// requests in the group resolved to a 2xx status.
func MinValidCount(min int64) AggregatePolicy {
	return func(stats *LinkGroupStats) AggregatePolicyResult {
		var valid int64
		for code, n := range stats.Snapshot() {
			if code >= 200 && code < 300 {
				valid += n
			}
		}
		if valid < min {
			return AggregatePolicyResult{
				Valid:   false,
				Message: fmt.Sprintf("only %d valid links, expected at least %d", valid, min),
			}
		}
		return AggregatePolicyResult{Valid: true}
	}
}

// StreamTransformer rewrites the ordered list of links routed to one
// group before the first validation pass begins.
type StreamTransformer func(group *LinkGroup, links []Link) []Link

// RandomOrder returns a StreamTransformer that shuffles only the links
// belonging to its group, leaving the relative order of every other
// link in the overall stream untouched (the caller is expected to
// apply it by partitioning, see LinkStream.applyTransformers).
func RandomOrder() StreamTransformer {
	return func(_ *LinkGroup, links []Link) []Link {
		out := make([]Link, len(links))
		copy(out, links)
		rand.Shuffle(len(out), func(i, j int) {
			out[i], out[j] = out[j], out[i]
		})
		return out
	}
}

// LinkGroup is an immutable policy bundle matched against links via a
// regular expression over the resolved URI. Every field but Stats is
// copy-on-write; Stats is the one piece of shared mutable state.
type LinkGroup struct {
	Pattern              *regexp.Regexp
	LinkMapper           func(Link) Link
	Headers              http.Header
	RateLimit            RateLimit
	StreamTransformers   []StreamTransformer
	ContinuationPolicies []AggregatePolicy
	FinalPolicies        []AggregatePolicy
	FragmentValidator    FragmentValidator
	Stats                *LinkGroupStats
}

// Matches reports whether resolvedURI is routed to this group.
func (g *LinkGroup) Matches(resolvedURI string) bool {
	return g.Pattern.MatchString(resolvedURI)
}

// rewrite applies the group's link mapper, if any, returning link
// unchanged otherwise.
func (g *LinkGroup) rewrite(link Link) Link {
	if g.LinkMapper == nil {
		return link
	}
	return g.LinkMapper(link)
}

// evaluateContinuation runs every continuation policy against the
// group's stats, returning the first failure (if any).
func (g *LinkGroup) evaluateContinuation() AggregatePolicyResult {
	for _, p := range g.ContinuationPolicies {
		if r := p(g.Stats); !r.Valid {
			return r
		}
	}
	return AggregatePolicyResult{Valid: true}
}

// evaluateFinal runs every final policy against the group's stats,
// collecting every failure (unlike continuation, all are reported).
func (g *LinkGroup) evaluateFinal() []AggregatePolicyResult {
	var failures []AggregatePolicyResult
	for _, p := range g.FinalPolicies {
		if r := p(g.Stats); !r.Valid {
			failures = append(failures, r)
		}
	}
	return failures
}

// sentinelPattern is the always-present fallback group's pattern,
// matching every resolved URI.
var sentinelPattern = regexp.MustCompile(`.*`)

// newSentinelGroup builds the guaranteed last-resort group.
func newSentinelGroup() *LinkGroup {
	return &LinkGroup{
		Pattern:           sentinelPattern,
		FragmentValidator: DefaultFragmentValidator(),
		RateLimit:         NoRateLimit(),
		Stats:             &LinkGroupStats{},
	}
}

// GroupBuilder constructs a LinkGroup via a copy-on-write chain rooted
// at LinkStream.Group, terminated by EndGroup.
type GroupBuilder struct {
	parent *LinkStream
	group  LinkGroup
}

// Header adds a header value to be attached to every request in this
// group; earlier values for the same key are kept.
func (b *GroupBuilder) Header(key, value string) *GroupBuilder {
	next := *b
	h := next.group.Headers.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Add(key, value)
	next.group.Headers = h
	return &next
}

// LinkMapper sets the group's link-rewrite function.
func (b *GroupBuilder) LinkMapper(fn func(Link) Link) *GroupBuilder {
	next := *b
	next.group.LinkMapper = fn
	return &next
}

// RateLimit sets the group's rate limit.
func (b *GroupBuilder) RateLimit(rl RateLimit) *GroupBuilder {
	next := *b
	next.group.RateLimit = rl
	return &next
}

// FragmentValidator sets the group's fragment validator.
func (b *GroupBuilder) FragmentValidator(fv FragmentValidator) *GroupBuilder {
	next := *b
	next.group.FragmentValidator = fv
	return &next
}

// StreamTransformer appends a transformer to the group's list.
func (b *GroupBuilder) StreamTransformer(t StreamTransformer) *GroupBuilder {
	next := *b
	next.group.StreamTransformers = append(append([]StreamTransformer{}, next.group.StreamTransformers...), t)
	return &next
}

// ContinuationPolicy appends a continuation policy to the group.
func (b *GroupBuilder) ContinuationPolicy(p AggregatePolicy) *GroupBuilder {
	next := *b
	next.group.ContinuationPolicies = append(append([]AggregatePolicy{}, next.group.ContinuationPolicies...), p)
	return &next
}

// FinalPolicy appends a final policy to the group.
func (b *GroupBuilder) FinalPolicy(p AggregatePolicy) *GroupBuilder {
	next := *b
	next.group.FinalPolicies = append(append([]AggregatePolicy{}, next.group.FinalPolicies...), p)
	return &next
}

// EndGroup inserts the built group immediately before the sentinel and
// returns the resulting LinkStream. Calling EndGroup on a GroupBuilder
// with no parent (e.g. a zero value) is a misconfiguration and is a
// fatal, category-6 error per the engine's error taxonomy.
func (b *GroupBuilder) EndGroup() (*LinkStream, error) {
	if b.parent == nil {
		return nil, fmt.Errorf("linkval: EndGroup called on a group builder with no parent stream")
	}
	g := b.group
	if g.FragmentValidator == nil {
		g.FragmentValidator = DefaultFragmentValidator()
	}
	if g.RateLimit == nil {
		g.RateLimit = NoRateLimit()
	}
	if g.Stats == nil {
		g.Stats = &LinkGroupStats{}
	}
	groups := make([]*LinkGroup, len(b.parent.groups)+1)
	copy(groups, b.parent.groups[:len(b.parent.groups)-1])
	groups[len(groups)-2] = &g
	groups[len(groups)-1] = b.parent.groups[len(b.parent.groups)-1]
	next := b.parent.clone()
	next.groups = groups
	// one-shot backreference: not carried onto the returned stream.
	return next, nil
}
