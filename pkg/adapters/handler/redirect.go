package handler

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-scanlink/pkg/core/services"
)

var pageTemplate = template.Must(template.New("redirect").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="robots" content="noindex">
{{- if .Target}}
<meta http-equiv="refresh" content="{{.Refresh}};url={{.Target}}">
{{- end}}
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,sans-serif;display:flex;min-height:100vh;align-items:center;justify-content:center;margin:0;background:#f7f7fb;color:#1f1f2e}
main{text-align:center;padding:2rem;max-width:28rem}
a{color:#7828f8}
</style>
</head>
<body>
<main>
<h1>{{.Title}}</h1>
{{- if .Target}}
<p>Redirecting to <a href="{{.Target}}">{{.Host}}</a>&hellip;</p>
{{- else}}
<p>{{.Reason}}</p>
{{- end}}
</main>
</body>
</html>
`))

type redirectPage struct {
	Title   string
	Target  string
	Host    string
	Refresh string
	Reason  string
}

type RedirectHandler struct {
	svc *services.RedirectService
	log logrus.FieldLogger
}

func NewRedirectHandler(svc *services.RedirectService, logger logrus.FieldLogger) *RedirectHandler {
	return &RedirectHandler{svc: svc, log: logger.WithField("component", "redirect_http")}
}

// Interstitial serves /r/{code}: a page that records the scan and lets the
// browser navigate after the grace delay.
func (h *RedirectHandler) Interstitial(w http.ResponseWriter, r *http.Request) {
	session := h.svc.NewSession(chi.URLParam(r, "code"), ClientContextOf(r), nil)
	defer session.Close()
	session.Start(r.Context())

	w.Header().Set("Cache-Control", "no-store")
	if f := session.Failure(); f != nil {
		h.render(w, statusFor(f), redirectPage{Title: "Link unavailable", Reason: f.Reason()})
		return
	}

	target := session.Target()
	h.render(w, http.StatusOK, redirectPage{
		Title:   "Redirecting",
		Target:  target,
		Host:    hostOf(target),
		Refresh: fmt.Sprintf("%g", h.svc.Grace().Seconds()),
	})
}

// Open serves /open/{code} with a plain 302 once the scan is queued.
func (h *RedirectHandler) Open(w http.ResponseWriter, r *http.Request) {
	navigated := make(chan string, 1)
	nav := services.NavigatorFunc(func(target string) { navigated <- target })

	session := h.svc.WithGrace(0).NewSession(chi.URLParam(r, "code"), ClientContextOf(r), nav)
	defer session.Close()
	session.Start(r.Context())

	w.Header().Set("Cache-Control", "no-store")
	if f := session.Failure(); f != nil {
		http.Error(w, f.Reason(), statusFor(f))
		return
	}

	select {
	case target := <-navigated:
		http.Redirect(w, r, target, http.StatusFound)
	case <-r.Context().Done():
	}
}

func (h *RedirectHandler) render(w http.ResponseWriter, status int, page redirectPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, page); err != nil {
		h.log.WithError(err).Error("Failed to render redirect page")
	}
}

func statusFor(f *domain.ResolveError) int {
	if errors.Is(f, domain.ErrLinkInactive) || errors.Is(f, domain.ErrLinkExpired) {
		return http.StatusGone
	}
	return http.StatusNotFound
}

// ClientContextOf collects what the request tells us about the scanner.
// Location comes from edge headers only (Cloudflare, then Vercel).
func ClientContextOf(r *http.Request) domain.ClientContext {
	country := r.Header.Get("CF-IPCountry")
	if country == "" {
		country = r.Header.Get("X-Vercel-IP-Country")
	}
	city := r.Header.Get("CF-IPCity")
	if city == "" {
		city = r.Header.Get("X-Vercel-IP-City")
		if decoded, err := url.QueryUnescape(city); err == nil {
			city = decoded
		}
	}
	return domain.ClientContext{
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
		Country:   country,
		City:      strings.TrimSpace(city),
	}
}

func hostOf(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return target
	}
	return u.Host
}
