package api

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/ignite/waitlist-service/internal/pkg/httputil"
	"github.com/ignite/waitlist-service/internal/pkg/logger"
)

type page struct {
	Title       string
	Message     string
	Email       string
	Success     bool
	ProductName string
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="robots" content="noindex">
<title>{{.Title}}{{if .ProductName}} · {{.ProductName}}{{end}}</title>
<style>
body{margin:0;min-height:100vh;display:flex;align-items:center;justify-content:center;background:#f6f7f9;font-family:-apple-system,Segoe UI,Helvetica,Arial,sans-serif;color:#111}
main{max-width:440px;margin:24px;padding:32px;background:#fff;border-radius:8px;text-align:center}
h1{font-size:22px;margin:0 0 12px}
p{color:#444;line-height:1.5;margin:0}
.email{margin-top:12px;font-size:14px;color:#777}
.error h1{color:#b42318}
</style>
</head>
<body>
<main{{if not .Success}} class="error"{{end}}>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .Email}}<p class="email">{{.Email}}</p>{{end}}
</main>
</body>
</html>
`))

func (h *Handlers) renderPage(w http.ResponseWriter, status int, p page) {
	p.ProductName = h.config.Waitlist.ProductName
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, p); err != nil {
		logger.Error("api: page render failed", "error", err.Error())
		httputil.HTML(w, http.StatusInternalServerError, []byte(msgGeneric))
		return
	}
	httputil.HTML(w, status, buf.Bytes())
}
