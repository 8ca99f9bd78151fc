package main

import (
	"fmt"
	"regexp"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"linkval"
	"linkval/internal/httpfetch"
	"linkval/internal/logging"
	"linkval/internal/sitemap"
)

type validateOptions struct {
	url            string
	sitemapURL     string
	timeout        time.Duration
	retries        int
	overallTimeout time.Duration
	rateLimit      int
	rateInterval   time.Duration
	exclude        string
	excludeEdit    bool
	verbose        bool
	color          bool
	progress       bool
}

func newValidateCmd() *cobra.Command {
	opts := &validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Discover a site's links and validate them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.url, "url", "", "Base URL to discover a sitemap from")
	flags.StringVar(&opts.sitemapURL, "sitemap", "", "Direct URL or path to a sitemap file")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Per-request timeout")
	flags.IntVar(&opts.retries, "retries", 1, "Number of retries after the first attempt")
	flags.DurationVar(&opts.overallTimeout, "overall-timeout", 30*time.Second, "Hard wall-clock budget for the whole run")
	flags.IntVar(&opts.rateLimit, "rate-limit", 0, "Maximum requests per --rate-interval (0 = unlimited)")
	flags.DurationVar(&opts.rateInterval, "rate-interval", time.Second, "Rolling window width for --rate-limit")
	flags.StringVar(&opts.exclude, "exclude", "", "Regex of resolved URIs to exclude")
	flags.BoolVar(&opts.excludeEdit, "exclude-edit-page", true, "Exclude links identified as AsciiDoc source (\"edit this page\" links)")
	flags.BoolVar(&opts.verbose, "verbose", false, "Log each routed link as structured JSON to stderr")
	flags.BoolVar(&opts.color, "color", true, "Colorize the error report")
	flags.BoolVar(&opts.progress, "progress", true, "Show a progress bar while fetching pages")

	return cmd
}

func runValidate(cmd *cobra.Command, opts *validateOptions) error {
	if opts.url == "" && opts.sitemapURL == "" {
		return fmt.Errorf("either --url or --sitemap must be provided")
	}
	if opts.url != "" && opts.sitemapURL != "" {
		return fmt.Errorf("cannot specify both --url and --sitemap")
	}

	ctx := cmd.Context()

	var src *sitemap.Source
	var err error
	if opts.sitemapURL != "" {
		src, err = sitemap.FromSitemapLocation(ctx, opts.sitemapURL)
	} else {
		src, err = sitemap.Discover(ctx, opts.url)
	}
	if err != nil {
		return fmt.Errorf("discovering sitemap: %w", err)
	}

	var bar *progressbar.ProgressBar
	if opts.progress {
		bar = progressbar.Default(int64(len(src.Pages())), "validating")
	}

	source := src.Links()
	if bar != nil {
		inner := source
		source = func(yield func(linkval.Link) bool) {
			seenPages := make(map[string]bool)
			inner(func(l linkval.Link) bool {
				if !seenPages[l.SourceFile] {
					seenPages[l.SourceFile] = true
					_ = bar.Add(1)
				}
				return yield(l)
			})
		}
	}

	client := httpfetch.NewClient(opts.timeout)

	stream := linkval.NewLinkStream(source, sitemap.Resolver{}, client).
		RetryAttempts(opts.retries).
		OverallTimeout(opts.overallTimeout)

	if opts.excludeEdit {
		stream = stream.ExcludeEditThisPage()
	}
	if opts.exclude != "" {
		re, err := regexp.Compile(opts.exclude)
		if err != nil {
			return fmt.Errorf("compiling --exclude pattern: %w", err)
		}
		stream = stream.ExcludeResolvedPattern(re)
	}
	if opts.verbose {
		stream = stream.Log(logging.New(cmd.ErrOrStderr(), logiface.LevelDebug))
	}
	if opts.rateLimit > 0 {
		groupStream, err := stream.Group(".*")
		if err != nil {
			return err
		}
		stream, err = groupStream.
			RateLimit(linkval.RequestsPerTimeInterval(opts.rateLimit, opts.rateInterval, linkval.RealSleeper())).
			EndGroup()
		if err != nil {
			return err
		}
	}

	errs, err := stream.Validate(ctx)
	if err != nil {
		return fmt.Errorf("validating links: %w", err)
	}

	if bar != nil {
		_ = bar.Finish()
	}

	out := cmd.OutOrStdout()
	if opts.color {
		if err := errs.FormatColor(out); err != nil {
			return err
		}
	} else {
		if err := errs.Format(out); err != nil {
			return err
		}
	}

	if errs.Count() > 0 {
		return fmt.Errorf("%d invalid link(s) found", errs.Count())
	}
	return nil
}
