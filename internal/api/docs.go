package api

import (
	"html"
	"strings"
)

// docsPage renders the Stoplight Elements viewer for the control API's
// own OpenAPI document, with shortcuts to the machine-readable surfaces.
func docsPage(version string) string {
	return strings.ReplaceAll(docsHTML, "{{version}}", html.EscapeString(version))
}

const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
  <title>apiscope API {{version}}</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    .scope-nav { position: fixed; top: 12px; right: 16px; z-index: 9999; display: flex; gap: 8px; }
    .scope-nav a {
      background: #161b22; border: 1px solid #30363d; border-radius: 6px; color: #58a6ff;
      font: 500 12px -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
      padding: 5px 12px; text-decoration: none;
    }
  </style>
</head>
<body style="height: 100vh; margin: 0; position: relative;">
  <nav class="scope-nav">
    <a href="/openapi.yaml">OpenAPI YAML</a>
    <a href="/metrics">Metrics</a>
    <a href="/health">Health</a>
  </nav>
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`
