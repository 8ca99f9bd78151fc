package linkval

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mitchellh/colorstring"
)

// ValidationErrorStream is a post-filtered view over a completed
// validation run's results: every ResultInvalid outcome, in the order
// produced by the pipeline.
type ValidationErrorStream struct {
	errors   []ValidationResult
	resolver ResourceResolver
}

// NewValidationErrorStream filters results down to the invalid ones,
// keeping a reference to resolver so messages can be pretty-printed
// against original source locations.
func NewValidationErrorStream(results []ValidationResult, resolver ResourceResolver) *ValidationErrorStream {
	var errs []ValidationResult
	for _, r := range results {
		if r.Kind == ResultInvalid {
			errs = append(errs, r)
		}
	}
	return &ValidationErrorStream{errors: errs, resolver: resolver}
}

// ToList returns every invalid result, in pipeline order.
func (s *ValidationErrorStream) ToList() []ValidationResult {
	out := make([]ValidationResult, len(s.errors))
	copy(out, s.errors)
	return out
}

// Count returns the number of invalid results.
func (s *ValidationErrorStream) Count() int {
	return len(s.errors)
}

// AssertValid returns an aggregate error describing every invalid
// result, or nil if there are none.
func (s *ValidationErrorStream) AssertValid() error {
	if len(s.errors) == 0 {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d link validation error(s):\n", len(s.errors))
	for _, r := range s.errors {
		fmt.Fprintln(&b, s.formatLine(r))
	}
	return errors.New(b.String())
}

// formatLine renders one invalid result per the engine's error line
// format: "<resolvedUri>  [<statusCode>]  <message>  (from <sourceFile>:<sourceLine>)".
func (s *ValidationErrorStream) formatLine(r ValidationResult) string {
	link := r.Request.Link
	sourceFile := link.SourceFile
	if sourceFile == "" && s.resolver != nil {
		sourceFile = s.resolver.SourcePath(link.ResolvedURI)
	}
	return fmt.Sprintf("%s  [%d]  %s  (from %s:%d)",
		link.ResolvedURI, r.StatusCode, r.Message, sourceFile, link.SourceLine)
}

// Format writes one line per invalid result to w, in plain text.
func (s *ValidationErrorStream) Format(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, r := range s.errors {
		if _, err := fmt.Fprintln(bw, s.formatLine(r)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// FormatColor writes one line per invalid result to w, colorized by
// severity: synthetic policy violations in yellow, everything else in
// red, matching the convention of a terminal error report.
func (s *ValidationErrorStream) FormatColor(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, r := range s.errors {
		color := "[red]"
		if r.StatusCode == StatusPolicyViolation {
			color = "[yellow]"
		}
		line := colorstring.Color(color + s.formatLine(r) + "[reset]")
		if _, err := fmt.Fprintln(bw, line); err != nil {
			return err
		}
	}
	return bw.Flush()
}
