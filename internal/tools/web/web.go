// Package web implements the HTTP fetch tool with a plain-text
// rendering of HTML responses.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/quillagent/quill/pkg/models"
)

const (
	requestTimeout = 15 * time.Second
	outputCap      = 50000
	maxBodyBytes   = 5 << 20
)

var (
	scriptRe   = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe    = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	breakRe    = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockEndRe = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|section|article|header|footer|blockquote|pre|table)>`)
	tagRe      = regexp.MustCompile(`<[^>]*>`)
	blankRe    = regexp.MustCompile(`\n{3,}`)
)

// entityReplacer decodes the common named entities in rendered text.
var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&nbsp;", " ",
)

// Tool fetches URLs with a hard timeout and renders HTML to text.
type Tool struct {
	client *http.Client
}

// New creates a web tool with the default 15 second client.
func New() *Tool {
	return &Tool{client: &http.Client{Timeout: requestTimeout}}
}

// NewWithClient creates a web tool using the given client; used by
// tests to stub transport behavior.
func NewWithClient(client *http.Client) *Tool {
	return &Tool{client: client}
}

func (t *Tool) Name() string { return "web" }

func (t *Tool) Description() string {
	return "Fetch a URL with GET or POST and return the response body; HTML is rendered to plain text."
}

func (t *Tool) Definition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "URL to fetch.",
				},
				"method": map[string]any{
					"type":        "string",
					"description": "HTTP method, GET or POST.",
					"enum":        []string{"GET", "POST"},
				},
				"body": map[string]any{
					"type":        "string",
					"description": "Request body for POST.",
				},
				"content_type": map[string]any{
					"type":        "string",
					"description": "Content-Type header for POST bodies.",
				},
			},
			"required": []string{"url"},
		},
		RequiredParams: []string{"url"},
	}
}

func (t *Tool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	url, _ := args["url"].(string)
	if strings.TrimSpace(url) == "" {
		return &models.ToolResult{Success: false, Error: "url is required"}, nil
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return &models.ToolResult{Success: false, Error: "url must use http or https"}, nil
	}

	method := http.MethodGet
	if m, _ := args["method"].(string); strings.EqualFold(m, http.MethodPost) {
		method = http.MethodPost
	}

	var body io.Reader
	if method == http.MethodPost {
		if raw, _ := args["body"].(string); raw != "" {
			body = strings.NewReader(raw)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("invalid request: %v", err)}, nil
	}
	if method == http.MethodPost {
		contentType, _ := args["content_type"].(string)
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("request failed: %v", err)}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("read body: %v", err)}, nil
	}

	contentType := resp.Header.Get("Content-Type")
	output := string(raw)
	if strings.Contains(contentType, "text/html") {
		output = ExtractText(output)
	}
	output = truncate(output, outputCap)

	result := &models.ToolResult{
		Success: resp.StatusCode < 400,
		Output:  output,
		Metadata: map[string]any{
			"status_code":  resp.StatusCode,
			"content_type": contentType,
			"final_url":    resp.Request.URL.String(),
		},
	}
	if !result.Success {
		result.Error = fmt.Sprintf("http status %d", resp.StatusCode)
	}
	return result, nil
}

// ExtractText renders an HTML document to plain text: script/style
// blocks dropped, block-level closes and <br> become newlines, all
// remaining tags stripped, common entities decoded.
func ExtractText(html string) string {
	text := scriptRe.ReplaceAllString(html, "")
	text = styleRe.ReplaceAllString(text, "")
	text = breakRe.ReplaceAllString(text, "\n")
	text = blockEndRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, "")
	text = entityReplacer.Replace(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = blankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
