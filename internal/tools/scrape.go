package tools

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// URLUnsafe is returned by the URL safety validator for a host that falls
// into one of the rejected categories (loopback, link-local, private
// range, or any scheme other than https).
type URLUnsafe struct {
	URL    string
	Reason string
}

func (e *URLUnsafe) Error() string { return fmt.Sprintf("unsafe URL %q: %s", e.URL, e.Reason) }

// ValidateURL rejects targets that could be used to reach internal
// infrastructure from an agent-issued fetch: any scheme other than https, loopback,
// link-local, and private address ranges. Hostnames are resolved so a DNS
// rebind to a private IP is also caught.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &URLUnsafe{URL: raw, Reason: "unparsable URL"}
	}
	if u.Scheme != "https" {
		return &URLUnsafe{URL: raw, Reason: "scheme must be https"}
	}
	host := u.Hostname()
	if host == "" {
		return &URLUnsafe{URL: raw, Reason: "missing host"}
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(host, ".localhost") {
		return &URLUnsafe{URL: raw, Reason: "loopback host"}
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		// Unresolvable — let the HTTP client surface the real error rather
		// than silently allowing it through.
		return nil
	}
	for _, ip := range ips {
		if isDisallowedIP(ip) {
			return &URLUnsafe{URL: raw, Reason: "resolves to a non-public address"}
		}
	}
	return nil
}

func isDisallowedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() || ip.IsPrivate() {
		return true
	}
	return false
}

// WebScrapeTool fetches a URL and extracts text, either statically (via
// goquery + a CSS selector) or, when JS rendering is required, through a
// headless browser.
type WebScrapeTool struct {
	renderJS bool
	client   *http.Client

	// validateURL gates every fetch against ValidateURL by default; tests
	// that exercise the fetch/extract path against an httptest server (which
	// only ever listens on loopback) substitute a no-op here.
	validateURL func(string) error
}

func NewWebScrapeTool(renderJS bool) *WebScrapeTool {
	return &WebScrapeTool{
		renderJS:    renderJS,
		client:      &http.Client{Timeout: 20 * time.Second},
		validateURL: ValidateURL,
	}
}

func (t *WebScrapeTool) Name() string        { return "web_scrape" }
func (t *WebScrapeTool) Description() string { return "Fetch a URL and extract text via a CSS selector" }
func (t *WebScrapeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url":      map[string]interface{}{"type": "string", "description": "https URL to fetch"},
			"selector": map[string]interface{}{"type": "string", "description": "CSS selector, defaults to body"},
			"extract": map[string]interface{}{
				"type":        "string",
				"description": `Extraction mode: "text", "html", or "attr". Defaults to "text".`,
				"enum":        []string{"text", "html", "attr"},
			},
			"attr": map[string]interface{}{
				"type":        "string",
				"description": `Attribute name to extract when extract is "attr". Defaults to "href".`,
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of matched elements to extract. 0 means no limit.",
			},
			"render_js": map[string]interface{}{"type": "boolean", "description": "Render JavaScript before extraction"},
		},
		"required": []string{"url"},
	}
}

func (t *WebScrapeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return ErrorResult("url is required")
	}
	selector, _ := args["selector"].(string)
	if selector == "" {
		selector = "body"
	}
	extract, _ := args["extract"].(string)
	if extract == "" {
		extract = "text"
	}
	attr, _ := args["attr"].(string)
	if attr == "" {
		attr = "href"
	}
	limit := 0
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}
	renderJS, _ := args["render_js"].(bool)

	if err := t.validateURL(rawURL); err != nil {
		return ErrorResult(err.Error())
	}

	if renderJS || t.renderJS {
		text, err := t.scrapeRendered(ctx, rawURL, selector, extract, attr, limit)
		if err != nil {
			return ErrorResult(fmt.Sprintf("render_js scrape failed: %v", err))
		}
		return SilentResult(text)
	}

	text, err := t.scrapeStatic(ctx, rawURL, selector, extract, attr, limit)
	if err != nil {
		return ErrorResult(fmt.Sprintf("scrape failed: %v", err))
	}
	return SilentResult(text)
}

func (t *WebScrapeTool) scrapeStatic(ctx context.Context, rawURL, selector, extract, attr string, limit int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "aeon-agent/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	var results []string
	doc.Find(selector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if limit > 0 && i >= limit {
			return false
		}
		var val string
		switch extract {
		case "html":
			h, err := s.Html()
			if err == nil {
				val = strings.TrimSpace(h)
			}
		case "attr":
			v, _ := s.Attr(attr)
			val = strings.TrimSpace(v)
		default:
			val = strings.TrimSpace(s.Text())
		}
		if val != "" {
			results = append(results, val)
		}
		return true
	})

	if len(results) == 0 {
		return "", fmt.Errorf("selector %q matched no content", selector)
	}
	return strings.Join(results, "\n"), nil
}

func (t *WebScrapeTool) scrapeRendered(ctx context.Context, rawURL, selector, extract, attr string, limit int) (string, error) {
	browser := rod.New().Context(ctx)
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("launch browser: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{URL: rawURL})
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}

	elements, err := page.Elements(selector)
	if err != nil {
		return "", fmt.Errorf("selector %q not found: %w", selector, err)
	}

	var results []string
	for i, el := range elements {
		if limit > 0 && i >= limit {
			break
		}
		var val string
		switch extract {
		case "html":
			h, err := el.HTML()
			if err == nil {
				val = strings.TrimSpace(h)
			}
		case "attr":
			a, err := el.Attribute(attr)
			if err == nil && a != nil {
				val = strings.TrimSpace(*a)
			}
		default:
			text, err := el.Text()
			if err == nil {
				val = strings.TrimSpace(text)
			}
		}
		if val != "" {
			results = append(results, val)
		}
	}

	if len(results) == 0 {
		return "", fmt.Errorf("selector %q matched no content", selector)
	}
	return strings.Join(results, "\n"), nil
}
