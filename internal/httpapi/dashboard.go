package httpapi

import (
	"fmt"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>PaperSync Status</title>
  <style>
    :root {
      --ink: #1c2430;
      --paper: #f6f4ef;
      --card: #ffffff;
      --line: #d8d2c4;
      --accent: #2c7a6f;
      --danger: #b5463d;
      --muted: #70798a;
    }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      font-family: "Avenir Next", "Segoe UI", sans-serif;
      color: var(--ink);
      background: var(--paper);
      padding: 24px;
    }
    .shell { max-width: 860px; margin: 0 auto; display: grid; gap: 14px; }
    .card {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 12px;
      padding: 18px;
    }
    h1 { margin: 0; font-size: 1.4rem; }
    .sub { color: var(--muted); font-size: 0.9rem; margin-top: 4px; }
    .grid { display: grid; gap: 10px; grid-template-columns: repeat(4, 1fr); margin-top: 12px; }
    .stat { border: 1px solid var(--line); border-radius: 10px; padding: 10px; }
    .stat .label { color: var(--muted); font-size: 0.75rem; text-transform: uppercase; }
    .stat .value { font-size: 1.3rem; font-weight: 600; margin-top: 4px; }
    .error { color: var(--danger); }
    #log { font-family: ui-monospace, monospace; font-size: 0.8rem; max-height: 260px; overflow-y: auto; }
    #log div { padding: 2px 0; border-bottom: 1px dashed var(--line); }
  </style>
</head>
<body>
  <div class="shell">
    <div class="card">
      <h1>PaperSync</h1>
      <div class="sub">Paperless to Notion mirror daemon</div>
      <div class="grid">
        <div class="stat"><div class="label">Cycles</div><div class="value" id="cycles">–</div></div>
        <div class="stat"><div class="label">Last sync</div><div class="value" id="lastSync">–</div></div>
        <div class="stat"><div class="label">Documents</div><div class="value" id="documents">–</div></div>
        <div class="stat"><div class="label">Archived</div><div class="value" id="archived">–</div></div>
      </div>
      <div class="sub error" id="lastError"></div>
    </div>
    <div class="card">
      <h1 style="font-size:1.05rem">Live events</h1>
      <div id="log"></div>
    </div>
  </div>
  <script>
    const token = new URLSearchParams(location.search).get("token") || "";
    async function refresh() {
      try {
        const headers = token ? { "Authorization": "Bearer " + token } : {};
        const resp = await fetch("/v1/admin/sync", { headers });
        if (!resp.ok) return;
        const status = await resp.json();
        document.getElementById("cycles").textContent = status.completedCycles;
        document.getElementById("lastSync").textContent = status.lastSync ? new Date(status.lastSync).toLocaleTimeString() : "never";
        document.getElementById("documents").textContent = status.documents.synced;
        document.getElementById("archived").textContent = status.archived;
        document.getElementById("lastError").textContent = status.lastError || "";
      } catch (err) { /* retry on next tick */ }
    }
    function listen() {
      const scheme = location.protocol === "https:" ? "wss" : "ws";
      const sock = new WebSocket(scheme + "://" + location.host + "/v1/admin/sync/events");
      sock.onmessage = (msg) => {
        const event = JSON.parse(msg.data);
        const line = document.createElement("div");
        line.textContent = event.timestamp + "  " + event.type + "  " + JSON.stringify(event.data || {});
        const log = document.getElementById("log");
        log.prepend(line);
        while (log.childElementCount > 100) log.removeChild(log.lastChild);
        refresh();
      };
      sock.onclose = () => setTimeout(listen, 3000);
    }
    refresh();
    setInterval(refresh, 10000);
    listen();
  </script>
</body>
</html>
`

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, dashboardHTML)
}
