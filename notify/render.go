package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"regexp"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/samber/oops"
)

//go:embed templates/*.md templates/layout.html
var templateFS embed.FS

var actionPaths = map[Purpose]string{
	PurposeEmailVerification: "/auth/verify-email",
	PurposePasswordReset:     "/auth/reset-password",
	PurposePasswordlessLogin: "/auth/link-login",
	PurposeSubnetApproval:    "/auth/approve-subnet",
	PurposeMergeRequest:      "/auth/merge-accounts",
}

var allPurposes = []Purpose{
	PurposeEmailVerification,
	PurposePasswordReset,
	PurposePasswordlessLogin,
	PurposeSubnetApproval,
	PurposeMergeRequest,
	PurposePasswordChanged,
	PurposeAccountDeactivated,
}

var linkLine = regexp.MustCompile(`^\[([^\]]+)\]\(([^)\s]+)\)$`)

// Rendered is a message ready for a transport.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

type templateData struct {
	Product string
	Msg     Message
	Link    string
}

type block struct {
	Text  string
	Link  string
	Items []string
}

type layoutData struct {
	Subject string
	Product string
	Blocks  []block
}

// Renderer turns messages into subject, markdown text and HTML. Templates
// are parsed once and never change afterwards.
type Renderer struct {
	product string
	baseURL string
	texts   map[Purpose]*texttemplate.Template
	layout  *htmltemplate.Template
}

// NewRenderer parses the embedded templates. baseURL is the front-end origin
// action links point at.
func NewRenderer(product, baseURL string) (*Renderer, error) {
	if product == "" {
		product = "goAccount"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, oops.Code("NOTIFY_BASE_URL_INVALID").With("base_url", baseURL).Wrap(err)
	}

	funcs := texttemplate.FuncMap{"duration": humanDuration}
	texts := make(map[Purpose]*texttemplate.Template, len(allPurposes))
	for _, purpose := range allPurposes {
		name := string(purpose) + ".md"
		tmpl, err := texttemplate.New(name).Funcs(funcs).ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, oops.Code("NOTIFY_TEMPLATE_PARSE_FAILED").With("template", name).Wrap(err)
		}
		texts[purpose] = tmpl
	}

	layout, err := htmltemplate.ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, oops.Code("NOTIFY_TEMPLATE_PARSE_FAILED").With("template", "layout.html").Wrap(err)
	}

	return &Renderer{
		product: product,
		baseURL: strings.TrimRight(baseURL, "/"),
		texts:   texts,
		layout:  layout,
	}, nil
}

// Render executes the message's template. The first "# " line becomes the
// subject and is removed from the body.
func (r *Renderer) Render(msg Message) (Rendered, error) {
	tmpl, ok := r.texts[msg.Purpose()]
	if !ok {
		return Rendered{}, oops.Code("NOTIFY_UNKNOWN_PURPOSE").With("purpose", msg.Purpose()).Errorf("no template for purpose")
	}

	data := templateData{Product: r.product, Msg: msg}
	if action, ok := msg.(actionMessage); ok {
		data.Link = r.link(msg.Purpose(), action.actionToken())
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return Rendered{}, oops.Code("NOTIFY_RENDER_FAILED").With("purpose", msg.Purpose()).Wrap(err)
	}

	subject, body := splitSubject(buf.String())

	var html bytes.Buffer
	err := r.layout.Execute(&html, layoutData{
		Subject: subject,
		Product: r.product,
		Blocks:  toBlocks(body),
	})
	if err != nil {
		return Rendered{}, oops.Code("NOTIFY_RENDER_FAILED").With("purpose", msg.Purpose()).Wrap(err)
	}

	return Rendered{Subject: subject, Text: body, HTML: html.String()}, nil
}

func (r *Renderer) link(purpose Purpose, token string) string {
	return r.baseURL + actionPaths[purpose] + "?token=" + url.QueryEscape(token)
}

func splitSubject(markdown string) (string, string) {
	markdown = strings.TrimLeft(markdown, "\n")
	first, rest, _ := strings.Cut(markdown, "\n")
	if !strings.HasPrefix(first, "# ") {
		return "", strings.TrimSpace(markdown)
	}
	return strings.TrimSpace(strings.TrimPrefix(first, "# ")), strings.TrimSpace(rest)
}

func toBlocks(body string) []block {
	var blocks []block
	for _, para := range strings.Split(body, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if m := linkLine.FindStringSubmatch(para); m != nil {
			blocks = append(blocks, block{Text: m[1], Link: m[2]})
			continue
		}

		lines := strings.Split(para, "\n")
		if isList(lines) {
			items := make([]string, len(lines))
			for i, line := range lines {
				items[i] = strings.TrimSpace(strings.TrimPrefix(line, "- "))
			}
			blocks = append(blocks, block{Items: items})
			continue
		}
		blocks = append(blocks, block{Text: strings.Join(lines, " ")})
	}
	return blocks
}

func isList(lines []string) bool {
	for _, line := range lines {
		if !strings.HasPrefix(line, "- ") {
			return false
		}
	}
	return len(lines) > 0
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a short while"
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.Round(time.Second).String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
