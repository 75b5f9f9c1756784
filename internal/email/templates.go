package email

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/osteele/liquid"

	"github.com/ignite/waitlist-service/internal/domain"
)

// TemplateData is the per-recipient input to BuildTemplate. Year is passed
// in so rendering stays a pure function.
type TemplateData struct {
	VerificationToken string
	UnsubscribeToken  string
	Position          int
	ProductName       string
	LaunchURL         string
	Year              int
}

// Content is a rendered message without an envelope.
type Content struct {
	Subject string
	HTML    string
	Text    string
	Tags    []string
}

// Message attaches an envelope to rendered content.
func (c Content) Message(to, from string, metadata map[string]string) Template {
	return Template{
		To:       to,
		From:     from,
		Subject:  c.Subject,
		HTML:     c.HTML,
		Text:     c.Text,
		Tags:     c.Tags,
		Metadata: metadata,
	}
}

// VerifyURL returns the verification link for a token.
func VerifyURL(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/waitlist/verify?token=" + url.QueryEscape(token)
}

// UnsubscribeURL returns the opt-out link for a token.
func UnsubscribeURL(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/waitlist/unsubscribe?token=" + url.QueryEscape(token)
}

type kindTemplates struct {
	subject *liquid.Template
	html    *liquid.Template
	text    *liquid.Template
}

var compiled = mustCompile()

func mustCompile() map[domain.EmailKind]kindTemplates {
	engine := liquid.NewEngine()
	out := make(map[domain.EmailKind]kindTemplates, len(sources))
	for kind, src := range sources {
		var kt kindTemplates
		for _, p := range []struct {
			dst **liquid.Template
			src string
		}{{&kt.subject, src.subject}, {&kt.html, src.html}, {&kt.text, src.text}} {
			tpl, err := engine.ParseString(p.src)
			if err != nil {
				panic(fmt.Sprintf("email: template %s: %v", kind, err))
			}
			*p.dst = tpl
		}
		out[kind] = kt
	}
	return out
}

// BuildTemplate renders subject, HTML and text for kind. Both bodies are
// rendered from one bindings map so their links always match.
func BuildTemplate(kind domain.EmailKind, data TemplateData, baseURL string) (Content, error) {
	kt, ok := compiled[kind]
	if !ok {
		return Content{}, fmt.Errorf("email: unknown template kind %q", kind)
	}
	if kind == domain.EmailVerification && data.VerificationToken == "" {
		return Content{}, fmt.Errorf("email: verification template needs a token")
	}

	product := data.ProductName
	if product == "" {
		product = "our product"
	}
	bindings := liquid.Bindings{
		"product_name":    product,
		"position":        data.Position,
		"launch_url":      data.LaunchURL,
		"year":            data.Year,
		"verify_url":      "",
		"unsubscribe_url": "",
	}
	if data.VerificationToken != "" {
		bindings["verify_url"] = VerifyURL(baseURL, data.VerificationToken)
	}
	if data.UnsubscribeToken != "" {
		bindings["unsubscribe_url"] = UnsubscribeURL(baseURL, data.UnsubscribeToken)
	}

	var c Content
	var err error
	if c.Subject, err = kt.subject.RenderString(bindings); err != nil {
		return Content{}, fmt.Errorf("render %s subject: %w", kind, err)
	}
	if c.HTML, err = kt.html.RenderString(bindings); err != nil {
		return Content{}, fmt.Errorf("render %s html: %w", kind, err)
	}
	if c.Text, err = kt.text.RenderString(bindings); err != nil {
		return Content{}, fmt.Errorf("render %s text: %w", kind, err)
	}
	c.Subject = strings.TrimSpace(c.Subject)
	c.Tags = []string{"waitlist", string(kind)}
	return c, nil
}

type source struct {
	subject, html, text string
}

const htmlHeader = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"></head>
<body style="margin:0;padding:24px;background:#f6f7f9;font-family:-apple-system,Segoe UI,Helvetica,Arial,sans-serif;color:#111">
<div style="max-width:560px;margin:0 auto;background:#fff;border-radius:8px;padding:32px">
`

const htmlFooter = `{% if unsubscribe_url != "" %}<p style="margin-top:32px;font-size:12px;color:#888">Don't want these emails? <a href="{{ unsubscribe_url }}" style="color:#888">Unsubscribe</a>.</p>{% endif %}
{% if year != 0 %}<p style="font-size:12px;color:#888">&copy; {{ year }} {{ product_name | escape }}</p>{% endif %}
</div></body></html>
`

const textFooter = `{% if unsubscribe_url != "" %}
Unsubscribe: {{ unsubscribe_url }}{% endif %}{% if year != 0 %}
(c) {{ year }} {{ product_name }}{% endif %}
`

var sources = map[domain.EmailKind]source{
	domain.EmailVerification: {
		subject: `Confirm your spot on the {{ product_name }} waitlist`,
		html: htmlHeader + `<h1 style="font-size:22px">Confirm your email</h1>
<p>Thanks for joining the {{ product_name | escape }} waitlist. Confirm your address to keep your spot.</p>
<p><a href="{{ verify_url }}" style="display:inline-block;padding:12px 20px;background:#111;color:#fff;border-radius:6px;text-decoration:none">Confirm email</a></p>
<p style="font-size:13px;color:#555">Or paste this link into your browser:<br>{{ verify_url }}</p>
<p style="font-size:13px;color:#555">If you didn't sign up, you can ignore this email.</p>
` + htmlFooter,
		text: `Thanks for joining the {{ product_name }} waitlist.

Confirm your email to keep your spot:
{{ verify_url }}

If you didn't sign up, you can ignore this email.
` + textFooter,
	},
	domain.EmailWelcome: {
		subject: `You're on the {{ product_name }} waitlist`,
		html: htmlHeader + `<h1 style="font-size:22px">You're in!</h1>
<p>Your email is confirmed and you're on the {{ product_name | escape }} waitlist.</p>
{% if position > 0 %}<p>You're <strong>#{{ position }}</strong> in line.</p>{% endif %}
<p>We'll email you as soon as we launch.</p>
` + htmlFooter,
		text: `Your email is confirmed and you're on the {{ product_name }} waitlist.
{% if position > 0 %}
You're #{{ position }} in line.
{% endif %}
We'll email you as soon as we launch.
` + textFooter,
	},
	domain.EmailLaunch: {
		subject: `{{ product_name }} is live`,
		html: htmlHeader + `<h1 style="font-size:22px">{{ product_name | escape }} is live</h1>
<p>Thanks for waiting. You can get started now.</p>
{% if launch_url != "" %}<p><a href="{{ launch_url }}" style="display:inline-block;padding:12px 20px;background:#111;color:#fff;border-radius:6px;text-decoration:none">Get started</a></p>{% endif %}
` + htmlFooter,
		text: `{{ product_name }} is live. Thanks for waiting.
{% if launch_url != "" %}
Get started: {{ launch_url }}
{% endif %}` + textFooter,
	},
}
