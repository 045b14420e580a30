// Package resolver turns inbound product URLs into a resolved URL and an
// optional product identifier.
package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	errs "github.com/odvcencio/affilink/pkg/errors"
	"github.com/odvcencio/affilink/pkg/logging"
	"github.com/odvcencio/affilink/pkg/telemetry"
)

const maxInterstitialBytes = 1 << 20

// Resolution is the outcome of resolving one URL.
type Resolution struct {
	OriginalURL string
	// URL is the post-redirect URL, or OriginalURL when no redirect was
	// followed or following failed.
	URL    string
	ItemID string
	// Matcher names the pattern that produced ItemID.
	Matcher string
	// RedirectErr is set when redirect following failed. It is informational;
	// URL still holds a usable value.
	RedirectErr error
}

// Direct reports whether no identifier was extracted.
func (r Resolution) Direct() bool {
	return r.ItemID == ""
}

// Options configures a Resolver.
type Options struct {
	// ShortLinkMarkers are substrings that mark a URL as a redirecting form.
	ShortLinkMarkers   []string
	Matchers           []Matcher
	Timeout            time.Duration
	FollowInterstitial bool
	Client             *http.Client
	Logger             *logging.Logger
}

// Resolver follows short links and extracts product identifiers.
type Resolver struct {
	markers      []string
	matchers     []Matcher
	timeout      time.Duration
	interstitial bool
	client       *http.Client
	logger       *logging.Logger
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	if opts.Matchers == nil {
		opts.Matchers = IdentifierPatterns
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Resolver{
		markers:      opts.ShortLinkMarkers,
		matchers:     opts.Matchers,
		timeout:      opts.Timeout,
		interstitial: opts.FollowInterstitial,
		client:       opts.Client,
		logger:       opts.Logger,
	}
}

// NeedsRedirect reports whether raw contains a short-link marker.
func (r *Resolver) NeedsRedirect(raw string) bool {
	for _, m := range r.markers {
		if m != "" && strings.Contains(raw, m) {
			return true
		}
	}
	return false
}

// Resolve follows redirects for short links and extracts the identifier.
// It never fails: redirect errors fall back to the original URL and an
// unmatched URL yields a direct resolution.
func (r *Resolver) Resolve(ctx context.Context, raw string) Resolution {
	ctx, span := telemetry.StartSpan(ctx, "resolver.Resolve", telemetry.AttrURL.String(raw))
	res := Resolution{OriginalURL: raw, URL: raw}

	if r.NeedsRedirect(raw) {
		final, err := r.follow(ctx, raw)
		if err != nil {
			res.RedirectErr = errs.Wrap(err, errs.ErrCodeResolutionFailure, "follow short link").
				WithContext("url", raw)
			r.logger.Warn(logging.CategoryResolver, "redirect_failed",
				fmt.Sprintf("Fetch resolve failed for %s", raw),
				map[string]any{"url": raw, "error": err.Error()})
		} else {
			res.URL = final
			r.logger.Info(logging.CategoryResolver, "redirect_resolved",
				fmt.Sprintf("Resolved shortlink to: %s", final),
				map[string]any{"url": raw, "resolved": final})
		}
	}

	if id, name, ok := ExtractIdentifier(res.URL, r.matchers); ok {
		res.ItemID = id
		res.Matcher = name
		span.SetAttributes(telemetry.AttrItemID.String(id))
	}
	telemetry.EndSpan(span, res.RedirectErr)
	return res
}

// follow issues a GET and returns the URL the client landed on. When the
// landing page is an HTML interstitial, its refresh or canonical target is
// used instead.
func (r *Resolver) follow(ctx context.Context, raw string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	final := resp.Request.URL
	if !r.interstitial || !isHTML(resp.Header.Get("Content-Type")) {
		return final.String(), nil
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxInterstitialBytes))
	if err != nil {
		return final.String(), nil
	}
	if target, ok := interstitialTarget(doc, final); ok {
		r.logger.Debug(logging.CategoryResolver, "interstitial",
			"Followed interstitial page", map[string]any{"from": final.String(), "to": target})
		return target, nil
	}
	return final.String(), nil
}

func isHTML(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/html")
}

// interstitialTarget looks for a meta refresh, then a canonical link, then
// og:url. Targets equal to base are ignored.
func interstitialTarget(doc *goquery.Document, base *url.URL) (string, bool) {
	var candidates []string

	doc.Find("meta[http-equiv]").Each(func(_ int, s *goquery.Selection) {
		equiv, _ := s.Attr("http-equiv")
		if !strings.EqualFold(strings.TrimSpace(equiv), "refresh") {
			return
		}
		content, _ := s.Attr("content")
		if target := refreshURL(content); target != "" {
			candidates = append(candidates, target)
		}
	})
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		candidates = append(candidates, href)
	}
	if content, ok := doc.Find(`meta[property="og:url"]`).First().Attr("content"); ok {
		candidates = append(candidates, content)
	}

	for _, c := range candidates {
		u, err := base.Parse(strings.TrimSpace(c))
		if err != nil {
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			continue
		}
		if u.String() == base.String() {
			continue
		}
		return u.String(), true
	}
	return "", false
}

// refreshURL extracts the url from a meta refresh content value such as
// "0; url=https://example.com/".
func refreshURL(content string) string {
	for _, part := range strings.Split(content, ";") {
		part = strings.TrimSpace(part)
		if len(part) > 4 && strings.EqualFold(part[:4], "url=") {
			return strings.Trim(strings.TrimSpace(part[4:]), `'"`)
		}
	}
	return ""
}
