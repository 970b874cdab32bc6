package api

import (
	"strings"

	"github.com/dgnsrekt/overlay_agent/internal/host"
)

// docsHTML renders the OpenAPI reference beside a small live console that
// tails the panel and tab feeds over SSE.
var docsHTML = strings.NewReplacer(
	"{{EVENTS}}", eventsPathPrefix,
	"{{FEED_PANEL}}", host.FeedPanel,
	"{{FEED_TABS}}", host.FeedTabs,
).Replace(docsTemplate)

const docsTemplate = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
  <title>Overlay Agent API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    body { height: 100vh; margin: 0; display: grid; grid-template-rows: 1fr 180px; }
    #feed { background: #0d1117; border-top: 1px solid #30363d; color: #c9d1d9;
      font: 12px ui-monospace, SFMono-Regular, Menlo, monospace; overflow-y: auto; padding: 6px 12px; }
    #feed header { color: #58a6ff; margin-bottom: 4px; }
    #feed header a { color: #58a6ff; margin-left: 12px; }
    #feed .panel { color: #7ee787; }
    #feed .tabs { color: #d2a8ff; }
  </style>
</head>
<body>
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
  <section id="feed">
    <header>Live events
      <a href="{{EVENTS}}?feeds={{FEED_PANEL}}">{{FEED_PANEL}} (SSE)</a>
      <a href="{{EVENTS}}?feeds={{FEED_TABS}}">{{FEED_TABS}} (SSE)</a>
      <a href="{{EVENTS}}/ws">WebSocket</a>
    </header>
    <div id="lines"></div>
  </section>
  <script>
    (function () {
      var lines = document.getElementById("lines");
      var es = new EventSource("{{EVENTS}}");
      function add(feed, data) {
        var row = document.createElement("div");
        row.className = feed;
        row.textContent = new Date().toLocaleTimeString() + "  " + feed + "  " + data;
        lines.prepend(row);
        while (lines.childNodes.length > 200) lines.removeChild(lines.lastChild);
      }
      ["{{FEED_PANEL}}", "{{FEED_TABS}}"].forEach(function (feed) {
        es.addEventListener(feed, function (ev) { add(feed, ev.data); });
      });
    })();
  </script>
</body>
</html>`
