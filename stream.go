package linkval

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"linkval/internal/logging"
)

const (
	defaultRetryAttempts  = 1
	defaultOverallTimeout = 30 * time.Second
)

// LinkStream is the pipeline orchestrator: an immutable builder over
// group routing, exclusion filters, and scheduler tuning. Every
// mutating method returns a distinct LinkStream; prior references
// remain valid and usable.
type LinkStream struct {
	source   LinkSource
	resolver ResourceResolver
	client   HttpClient

	groups []*LinkGroup

	excludes            []func(Link) bool
	includeResolved     []*regexp.Regexp
	excludeEditThisPage bool

	retryAttemptsN int
	overallTimeout time.Duration

	logger  *logging.Logger
	sleeper Sleeper
}

// NewLinkStream builds a LinkStream with the engine's configuration
// defaults: retryAttempts=1, overallTimeout=30s, a single sentinel
// group, a disabled logger, and a real-time Sleeper.
func NewLinkStream(source LinkSource, resolver ResourceResolver, client HttpClient) *LinkStream {
	return &LinkStream{
		source:         source,
		resolver:       resolver,
		client:         client,
		groups:         []*LinkGroup{newSentinelGroup()},
		retryAttemptsN: defaultRetryAttempts,
		overallTimeout: defaultOverallTimeout,
		logger:         logging.Disabled(),
		sleeper:        RealSleeper(),
	}
}

// clone returns a shallow copy of s; builder methods mutate the copy's
// top-level fields only, never s itself.
func (s *LinkStream) clone() *LinkStream {
	next := *s
	return &next
}

// Log attaches logger, which receives a structured line for each link
// as it is routed.
func (s *LinkStream) Log(logger *logging.Logger) *LinkStream {
	next := s.clone()
	next.logger = logger
	return next
}

// Exclude drops every link for which predicate returns true, before
// group routing; excluded links are not recorded as errors.
func (s *LinkStream) Exclude(predicate func(Link) bool) *LinkStream {
	next := s.clone()
	next.excludes = append(append([]func(Link) bool{}, next.excludes...), predicate)
	return next
}

// ExcludeResolvedURIs drops links whose ResolvedURI is exactly one of
// uris.
func (s *LinkStream) ExcludeResolvedURIs(uris ...string) *LinkStream {
	set := make(map[string]bool, len(uris))
	for _, u := range uris {
		set[u] = true
	}
	return s.Exclude(func(l Link) bool { return set[l.ResolvedURI] })
}

// ExcludeResolvedPattern drops links whose ResolvedURI matches re.
func (s *LinkStream) ExcludeResolvedPattern(re *regexp.Regexp) *LinkStream {
	return s.Exclude(func(l Link) bool { return re.MatchString(l.ResolvedURI) })
}

// IncludeResolved restricts the stream to links whose ResolvedURI
// matches at least one registered pattern. Calling it more than once
// is cumulative: a link need only match one of the accumulated
// patterns.
func (s *LinkStream) IncludeResolved(re *regexp.Regexp) *LinkStream {
	next := s.clone()
	next.includeResolved = append(append([]*regexp.Regexp{}, next.includeResolved...), re)
	return next
}

// ExcludeEditThisPage drops links the resolver identifies as pointing
// at AsciiDoc source (Antora's "edit this page" links).
func (s *LinkStream) ExcludeEditThisPage() *LinkStream {
	next := s.clone()
	next.excludeEditThisPage = true
	return next
}

// WithSleeper overrides the cooperative sleep used by the retry loop,
// primarily so tests can fake the passage of time.
func (s *LinkStream) WithSleeper(sleeper Sleeper) *LinkStream {
	next := s.clone()
	next.sleeper = sleeper
	return next
}

// RetryAttempts sets the number of retries permitted after the first
// attempt (so a link may be attempted n+1 times in total).
func (s *LinkStream) RetryAttempts(n int) *LinkStream {
	next := s.clone()
	next.retryAttemptsN = n
	return next
}

// OverallTimeout sets the pipeline's hard wall-clock budget.
func (s *LinkStream) OverallTimeout(d time.Duration) *LinkStream {
	next := s.clone()
	next.overallTimeout = d
	return next
}

// Group opens a GroupBuilder for a new LinkGroup matching pattern. The
// builder's EndGroup inserts the finished group immediately before the
// sentinel and returns the resulting LinkStream.
func (s *LinkStream) Group(pattern string) (*GroupBuilder, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("linkval: compiling group pattern %q: %w", pattern, err)
	}
	return &GroupBuilder{
		parent: s,
		group: LinkGroup{
			Pattern: re,
			Stats:   &LinkGroupStats{},
		},
	}, nil
}

// findGroup returns the first group whose pattern matches resolvedURI,
// falling back to the guaranteed sentinel.
func (s *LinkStream) findGroup(resolvedURI string) *LinkGroup {
	for _, g := range s.groups {
		if g.Matches(resolvedURI) {
			return g
		}
	}
	return s.groups[len(s.groups)-1]
}

// createRequest routes link to its group and latches its continuation
// decision. Used identically by the first pass and every retry
// iteration, so a link is always re-routed from its original,
// pre-rewrite form.
func (s *LinkStream) createRequest(link Link, attemptsLeft int) ValidationRequest {
	group := s.findGroup(link.ResolvedURI)
	continuation := group.evaluateContinuation()
	return ValidationRequest{
		Link:           group.rewrite(link),
		Group:          group,
		AttemptsLeft:   attemptsLeft,
		ShouldContinue: continuation.Valid,
	}
}

// collectLinks drains the source into a slice, applying Exclude,
// IncludeResolved, and ExcludeEditThisPage filters.
func (s *LinkStream) collectLinks() []Link {
	var links []Link
	s.source(func(l Link) bool {
		links = append(links, l)
		return true
	})
	return s.filterLinks(links)
}

func (s *LinkStream) filterLinks(links []Link) []Link {
	out := links[:0:0]
	for _, l := range links {
		if s.excludeEditThisPage && s.resolver != nil && s.resolver.IsAsciiDocSource(l) {
			continue
		}
		excluded := false
		for _, pred := range s.excludes {
			if pred(l) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		if len(s.includeResolved) > 0 {
			included := false
			for _, re := range s.includeResolved {
				if re.MatchString(l.ResolvedURI) {
					included = true
					break
				}
			}
			if !included {
				continue
			}
		}
		out = append(out, l)
	}
	return out
}

// applyTransformers runs each group's StreamTransformers in group
// order: the links currently routed to that group are partitioned out,
// transformed, and reinserted after the untouched complement.
func (s *LinkStream) applyTransformers(links []Link) []Link {
	for _, g := range s.groups {
		if len(g.StreamTransformers) == 0 {
			continue
		}
		var complement, matching []Link
		for _, l := range links {
			if g.Matches(l.ResolvedURI) {
				matching = append(matching, l)
			} else {
				complement = append(complement, l)
			}
		}
		for _, t := range g.StreamTransformers {
			matching = t(g, matching)
		}
		links = append(complement, matching...)
	}
	return links
}

// pendingRetry holds a link awaiting a scheduled retry, keyed by the
// original (pre-group-rewrite) link so re-routing via createRequest is
// always identical to the first pass.
type pendingRetry struct {
	original     Link
	attemptsLeft int
	result       ValidationResult
}

func sortPending(pending []pendingRetry) {
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].result.RetryAtEpochMs < pending[j].result.RetryAtEpochMs
	})
}

// Validate runs the pipeline using a DefaultLinkValidator built from
// the stream's configured HttpClient.
func (s *LinkStream) Validate(ctx context.Context) (*ValidationErrorStream, error) {
	return s.ValidateWith(ctx, NewDefaultLinkValidator(s.client))
}

// ValidateWith runs the pipeline using the given validator, as
// described in the engine's execution protocol: a first pass over the
// transformed link sequence, a retry loop draining scheduled retries in
// ascending retry-time order, and a final-policy evaluation per group.
func (s *LinkStream) ValidateWith(ctx context.Context, validator LinkValidator) (*ValidationErrorStream, error) {
	deadline := time.Now().Add(s.overallTimeout)

	links := s.collectLinks()
	links = s.applyTransformers(links)

	var terminal []ValidationResult
	var pending []pendingRetry

	for _, link := range links {
		req := s.createRequest(link, s.retryAttemptsN+1)
		s.logLink(link, req)
		if !req.ShouldContinue {
			continue
		}
		if !time.Now().Before(deadline) {
			terminal = append(terminal, Invalid(req, StatusNeverAttempted,
				fmt.Sprintf("Did not try, overall timeout of %d ms expired", s.overallTimeout.Milliseconds())))
			continue
		}
		result, err := validator.Validate(ctx, req)
		if err != nil {
			return nil, err
		}
		switch result.Kind {
		case ResultInvalid:
			terminal = append(terminal, result)
		case ResultRetry:
			pending = append(pending, pendingRetry{original: link, attemptsLeft: req.AttemptsLeft - 1, result: result})
		}
	}

	sortPending(pending)

	for len(pending) > 0 {
		head := pending[0]
		pending = pending[1:]

		req := s.createRequest(head.original, head.attemptsLeft)
		if !req.ShouldContinue {
			continue
		}
		if head.result.RetryAtEpochMs >= deadline.UnixMilli() {
			terminal = append(terminal, Invalid(req, StatusNeverAttempted,
				fmt.Sprintf("Did not try (again), overall timeout of %d ms expired", s.overallTimeout.Milliseconds())))
			continue
		}
		wait := time.Duration(head.result.RetryAtEpochMs-time.Now().UnixMilli()) * time.Millisecond
		if wait > 0 {
			if err := s.sleeper.Sleep(ctx, wait); err != nil {
				return nil, fmt.Errorf("linkval: interrupted while waiting to retry %s: %w", head.original.ResolvedURI, err)
			}
		}
		result, err := validator.Validate(ctx, req)
		if err != nil {
			return nil, err
		}
		switch result.Kind {
		case ResultInvalid:
			terminal = append(terminal, result)
		case ResultRetry:
			pending = append(pending, pendingRetry{original: head.original, attemptsLeft: req.AttemptsLeft - 1, result: result})
			sortPending(pending)
		}
	}

	var synthetic []ValidationResult
	for _, g := range s.groups {
		for _, failure := range g.evaluateFinal() {
			synthetic = append(synthetic, ValidationResult{
				Kind:       ResultInvalid,
				StatusCode: StatusPolicyViolation,
				Message:    failure.Message,
				Request:    ValidationRequest{Group: g},
			})
		}
	}

	all := make([]ValidationResult, 0, len(terminal)+len(pending)+len(synthetic))
	all = append(all, terminal...)
	for _, p := range pending {
		all = append(all, p.result)
	}
	all = append(all, synthetic...)

	return NewValidationErrorStream(all, s.resolver), nil
}

func (s *LinkStream) logLink(link Link, req ValidationRequest) {
	if s.logger == nil {
		return
	}
	s.logger.Debug().
		Str("uri", link.ResolvedURI).
		Str("group", req.Group.Pattern.String()).
		Log("routing link")
}
