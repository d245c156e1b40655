package web

import (
	"html/template"
	"io"

	"github.com/vanderheijden86/cadview/pkg/version"
)

var pageTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>cadview</title>
<style>
  body { margin: 0; font-family: ui-monospace, monospace; background: #f9fafb; color: #111827; display: grid; grid-template-columns: 320px 1fr; grid-template-rows: auto 1fr auto; height: 100vh; }
  header { grid-column: 1 / 3; padding: 8px 16px; background: #7D56F4; color: #fff; }
  header small { opacity: .8; margin-left: 8px; }
  #banner { display: none; grid-column: 1 / 3; padding: 6px 16px; background: #dc2626; color: #fff; }
  #tree { overflow: auto; padding: 8px; border-right: 1px solid #e5e7eb; }
  #tree ul { list-style: none; padding-left: 16px; margin: 0; }
  #tree li > span { cursor: pointer; padding: 1px 4px; border-radius: 3px; }
  #tree li > span.selected { background: #ff6b35; color: #fff; }
  main { overflow: auto; display: flex; flex-direction: column; gap: 8px; padding: 8px; }
  #diagram svg g.node:hover rect { stroke-width: 2.5; }
  #model { max-width: 640px; border: 1px solid #e5e7eb; }
  footer { grid-column: 1 / 3; padding: 6px 16px; border-top: 1px solid #e5e7eb; white-space: pre-wrap; }
  button { font: inherit; }
</style>
</head>
<body>
<header>cadview<small>{{.Version}}</small> <button id="reset">reset selection</button></header>
<div id="banner"></div>
<nav id="tree">No model loaded.</nav>
<main>
  <div id="diagram">Fetching diagram…</div>
  <img id="model" alt="model preview">
</main>
<footer id="message">Connecting…</footer>
<script>
(function () {
  let ws, state = {}, lastDiagramKey = null;

  function send(msg) {
    if (ws && ws.readyState === WebSocket.OPEN) ws.send(JSON.stringify(msg));
  }

  function renderTree(node) {
    const li = document.createElement("li");
    const label = document.createElement("span");
    label.textContent = node.name + " (" + node.type + ")";
    label.title = node.id;
    if (state.has_selection && state.selected_id === node.id) label.className = "selected";
    label.onclick = () => send({type: "select", id: node.id});
    li.appendChild(label);
    if (node.children && node.children.length) {
      const ul = document.createElement("ul");
      node.children.forEach(c => ul.appendChild(renderTree(c)));
      li.appendChild(ul);
    }
    return li;
  }

  function loadDiagram() {
    const key = (state.token || "") + "|" + (state.has_selection ? state.selected_id : "");
    if (key === lastDiagramKey) return;
    lastDiagramKey = key;
    fetch("/diagram.svg", {cache: "no-store"}).then(r => r.ok ? r.text() : Promise.reject(r.statusText)).then(svg => {
      const el = document.getElementById("diagram");
      el.innerHTML = svg;
      el.querySelectorAll("g.node").forEach(g => {
        g.addEventListener("click", () => send({type: "select", id: g.dataset.id}));
      });
    }).catch(err => { document.getElementById("diagram").textContent = "Diagram unavailable: " + err; });
  }

  function render() {
    const tree = document.getElementById("tree");
    tree.innerHTML = "";
    if (state.tree) {
      const ul = document.createElement("ul");
      ul.appendChild(renderTree(state.tree));
      tree.appendChild(ul);
    } else {
      tree.textContent = "No model loaded.";
    }
    const banner = document.getElementById("banner");
    banner.textContent = state.banner || "";
    banner.style.display = state.banner ? "block" : "none";
    document.getElementById("message").textContent = state.message || "";
    loadDiagram();
    document.getElementById("model").src = "/model.png?w=640&h=480&k=" + encodeURIComponent(lastDiagramKey);
  }

  function connect() {
    const proto = location.protocol === "https:" ? "wss:" : "ws:";
    ws = new WebSocket(proto + "//" + location.host + "/ws");
    ws.onmessage = ev => {
      const msg = JSON.parse(ev.data);
      if (msg.type === "state") { state = msg; render(); }
    };
    ws.onclose = () => {
      document.getElementById("message").textContent = "Disconnected, retrying…";
      setTimeout(connect, 2000);
    };
  }

  document.getElementById("reset").onclick = () => send({type: "reset"});
  connect();
})();
</script>
</body>
</html>
`))

type pageData struct {
	Version string
}

func renderPage(w io.Writer) error {
	return pageTemplate.Execute(w, pageData{Version: version.String()})
}
