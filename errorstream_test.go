package linkval_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkval"
)

type stubResolver struct{}

func (stubResolver) IsAsciiDocSource(linkval.Link) bool { return false }
func (stubResolver) SourcePath(resolvedURI string) string {
	return "resolved:" + resolvedURI
}

func TestValidationErrorStream_FiltersToInvalid(t *testing.T) {
	link := linkval.NewLink("./a", "https://example.test/a", "docs/a.adoc", 3)
	req := linkval.ValidationRequest{Link: link}

	results := []linkval.ValidationResult{
		linkval.Valid(req, 200),
		linkval.Invalid(req, 404, "not found"),
		linkval.Retry(req, 503, "slow", 0),
	}

	stream := linkval.NewValidationErrorStream(results, nil)
	assert.Equal(t, 1, stream.Count())
	assert.Equal(t, 404, stream.ToList()[0].StatusCode)
}

func TestValidationErrorStream_Format(t *testing.T) {
	link := linkval.NewLink("./a", "https://example.test/a", "docs/a.adoc", 3)
	req := linkval.ValidationRequest{Link: link}
	results := []linkval.ValidationResult{linkval.Invalid(req, 404, "not found")}

	stream := linkval.NewValidationErrorStream(results, nil)

	var buf strings.Builder
	require.NoError(t, stream.Format(&buf))

	want := fmt.Sprintf("%s  [%d]  %s  (from %s:%d)\n",
		"https://example.test/a", 404, "not found", "docs/a.adoc", 3)
	assert.Equal(t, want, buf.String())
}

func TestValidationErrorStream_Format_FallsBackToResolver(t *testing.T) {
	link := linkval.NewResolvedLink("https://example.test/a")
	req := linkval.ValidationRequest{Link: link}
	results := []linkval.ValidationResult{linkval.Invalid(req, 404, "not found")}

	stream := linkval.NewValidationErrorStream(results, stubResolver{})

	var buf strings.Builder
	require.NoError(t, stream.Format(&buf))
	assert.Contains(t, buf.String(), "resolved:https://example.test/a")
}

func TestValidationErrorStream_AssertValid(t *testing.T) {
	req := linkval.ValidationRequest{Link: linkval.NewResolvedLink("https://example.test/a")}

	empty := linkval.NewValidationErrorStream(nil, nil)
	assert.NoError(t, empty.AssertValid())

	withErr := linkval.NewValidationErrorStream([]linkval.ValidationResult{
		linkval.Invalid(req, 404, "not found"),
	}, nil)
	err := withErr.AssertValid()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 link validation error")
}

func TestValidationErrorStream_FormatColor(t *testing.T) {
	req := linkval.ValidationRequest{Link: linkval.NewResolvedLink("https://example.test/a")}
	results := []linkval.ValidationResult{
		linkval.Invalid(req, 404, "not found"),
		linkval.Invalid(req, linkval.StatusPolicyViolation, "policy violated"),
	}
	stream := linkval.NewValidationErrorStream(results, nil)

	var buf strings.Builder
	require.NoError(t, stream.FormatColor(&buf))
	assert.Contains(t, buf.String(), "not found")
	assert.Contains(t, buf.String(), "policy violated")
}
