package publish

import (
	"bytes"
	"html/template"
	"strings"
)

const readmeExcerptRunes = 4000

var landingTemplate = template.Must(template.New("landing").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{.Title}}</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 800px; margin: 0 auto; padding: 2rem; line-height: 1.6; }
    pre { background: #f6f8fa; padding: 1rem; border-radius: 6px; overflow: auto; white-space: pre-wrap; }
    a { color: #0366d6; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <p>This repository has been deployed from <a href="{{.SourceURL}}">{{.SourceURL}}</a>.</p>
  {{- if .Readme}}
  <h2>README</h2>
  <pre>{{.Readme}}</pre>
  {{- else}}
  <p>No README.md or index.html was found in this repository.</p>
  {{- end}}
</body>
</html>
`))

type landingData struct {
	Title     string
	SourceURL string
	Readme    string
}

// WithEntryPoint returns files unchanged when it already has an entry point, otherwise
// a copy with a generated index.html describing the source repository.
func WithEntryPoint(files map[string]string, sourceURL string) (map[string]string, bool) {
	if _, ok := files["index.html"]; ok {
		return files, false
	}
	if _, ok := files["package.json"]; ok {
		return files, false
	}

	readme, ok := files["README.md"]
	if !ok {
		readme = files["readme.md"]
	}

	var buf bytes.Buffer
	data := landingData{
		Title:     repoTitle(sourceURL),
		SourceURL: sourceURL,
		Readme:    excerpt(readme, readmeExcerptRunes),
	}
	if err := landingTemplate.Execute(&buf, data); err != nil {
		return files, false
	}

	out := make(map[string]string, len(files)+1)
	for k, v := range files {
		out[k] = v
	}
	out["index.html"] = buf.String()
	return out, true
}

func repoTitle(sourceURL string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(sourceURL, "/"), ".git")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 && i < len(trimmed)-1 {
		return trimmed[i+1:]
	}
	return "Repository"
}

func excerpt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
