package linkval

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// FragmentValidator decides whether a link's fragment resolves inside
// a successfully fetched response body.
type FragmentValidator interface {
	Validate(link Link, response *Response) (ValidationResult, error)
}

// bodyKind discriminates the memoization keys used by BodyAs for the
// decoders this package provides.
type bodyKind int

const (
	bodyKindHTML bodyKind = iota
	bodyKindGithubBlob
)

// alwaysValidFragmentValidator accepts every link unconditionally.
type alwaysValidFragmentValidator struct{}

// AlwaysValidFragmentValidator returns a FragmentValidator that treats
// every fragment as present, useful for groups where fragment presence
// cannot or should not be checked (e.g. JS-rendered anchors).
func AlwaysValidFragmentValidator() FragmentValidator { return alwaysValidFragmentValidator{} }

func (alwaysValidFragmentValidator) Validate(link Link, _ *Response) (ValidationResult, error) {
	return Valid(ValidationRequest{Link: link}, 200), nil
}

// illegalSelectorChars are characters that are legal in an HTML id but
// not in a bare CSS selector; a fragment containing any of them is
// treated as a raw id lookup instead of a selector query (this is the
// shape of Javadoc anchors, e.g. "#foo(int,long)").
const illegalSelectorChars = "(),."

// defaultFragmentValidator parses the body as HTML and resolves the
// fragment by CSS selector, name attribute, or raw id lookup.
type defaultFragmentValidator struct{}

// DefaultFragmentValidator returns the HTML FragmentValidator: parses
// the response body once (memoized via Response.BodyAs) and resolves
// the fragment by selector, "a[name=...]", or raw id as appropriate.
func DefaultFragmentValidator() FragmentValidator { return defaultFragmentValidator{} }

func (defaultFragmentValidator) Validate(link Link, response *Response) (ValidationResult, error) {
	req := ValidationRequest{Link: link}
	if link.Fragment == "" {
		return Valid(req, response.StatusCode), nil
	}
	id := strings.TrimPrefix(link.Fragment, "#")

	docAny, err := response.BodyAs(bodyKindHTML, decodeHTMLDocument)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("linkval: parsing HTML body for fragment %q: %w", link.Fragment, err)
	}
	doc := docAny.(*goquery.Document)

	if strings.ContainsAny(id, illegalSelectorChars) {
		if findByID(doc, id) {
			return Valid(req, response.StatusCode), nil
		}
		return Invalid(req, response.StatusCode, fmt.Sprintf("Could not find %s", link.Fragment)), nil
	}

	matcher, err := cascadia.Compile(link.Fragment)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("linkval: compiling selector %q: %w", link.Fragment, err)
	}
	if doc.FindMatcher(matcher).Length() > 0 {
		return Valid(req, response.StatusCode), nil
	}

	nameMatcher, err := cascadia.Compile(fmt.Sprintf(`a[name="%s"]`, id))
	if err != nil {
		return ValidationResult{}, fmt.Errorf("linkval: compiling name fallback selector for %q: %w", id, err)
	}
	if doc.FindMatcher(nameMatcher).Length() > 0 {
		return Valid(req, response.StatusCode), nil
	}

	return Invalid(req, response.StatusCode, fmt.Sprintf("Could not find %s", link.Fragment)), nil
}

func decodeHTMLDocument(body []byte) (any, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

func findByID(doc *goquery.Document, id string) bool {
	found := false
	doc.Find("[id]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, ok := s.Attr("id"); ok && v == id {
			found = true
			return false
		}
		return true
	})
	return found
}

// githubBlobBody is the decoded shape of a GitHub blob API response.
type githubBlobBody struct {
	lastLine int
}

var (
	githubSingleLine = regexp.MustCompile(`^L(\d+)$`)
	githubLineRange  = regexp.MustCompile(`^L(\d+)-L(\d+)$`)
)

type githubContentEnvelope struct {
	Content string `json:"content"`
}

// githubBlobFragmentValidator treats the response body as GitHub's
// blob-content JSON envelope and validates #L<n> / #L<a>-L<b> line
// fragments against the decoded blob's line count.
type githubBlobFragmentValidator struct{}

// GithubBlobFragmentValidator returns a FragmentValidator appropriate
// for a group matching GitHub's raw blob content API, where the body
// is JSON of the form {"content": "<base64>"}.
func GithubBlobFragmentValidator() FragmentValidator { return githubBlobFragmentValidator{} }

func (githubBlobFragmentValidator) Validate(link Link, response *Response) (ValidationResult, error) {
	req := ValidationRequest{Link: link}
	if link.Fragment == "" {
		return Valid(req, response.StatusCode), nil
	}

	blobAny, err := response.BodyAs(bodyKindGithubBlob, decodeGithubBlob)
	if err != nil {
		return Invalid(req, response.StatusCode, fmt.Sprintf("Could not decode blob body: %v", err)), nil
	}
	blob := blobAny.(githubBlobBody)

	frag := strings.TrimPrefix(link.Fragment, "#")

	if m := githubSingleLine.FindStringSubmatch(frag); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n >= 1 && n <= blob.lastLine {
			return Valid(req, response.StatusCode), nil
		}
		return Invalid(req, response.StatusCode, fmt.Sprintf("Fragment %s out of range (file has %d lines)", link.Fragment, blob.lastLine)), nil
	}

	if m := githubLineRange.FindStringSubmatch(frag); m != nil {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		if a >= 1 && a <= b && b <= blob.lastLine {
			return Valid(req, response.StatusCode), nil
		}
		return Invalid(req, response.StatusCode, fmt.Sprintf("Fragment %s out of range (file has %d lines)", link.Fragment, blob.lastLine)), nil
	}

	return Invalid(req, response.StatusCode, fmt.Sprintf("Fragment %s not supported", link.Fragment)), nil
}

func decodeGithubBlob(body []byte) (any, error) {
	var envelope githubContentEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return githubBlobBody{}, fmt.Errorf("decoding github blob envelope: %w", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(envelope.Content)
	if err != nil {
		return githubBlobBody{}, fmt.Errorf("decoding base64 content: %w", err)
	}
	lines := bytes.Count(decoded, []byte("\n"))
	if len(decoded) > 0 && !bytes.HasSuffix(decoded, []byte("\n")) {
		lines++
	}
	return githubBlobBody{lastLine: lines}, nil
}
