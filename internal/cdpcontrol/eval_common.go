package cdpcontrol

import (
	"encoding/json"
	"strings"
)

// BindingName is the CDP binding the overlay posts bridge messages through.
const BindingName = "__mpOverlayBridge"

// guardName is the page-level flag marking an installed overlay.
const guardName = "__mpOverlay"

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// decodeEnvelope unpacks the JSON envelope every script returns into out.
func decodeEnvelope(raw string, out any) error {
	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = CodeEvalFailure
		}
		return newError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

const jsOverlayGuard = `
var ov = window.` + guardName + `;
if (!ov) {
  return JSON.stringify({ok:false,error_code:"` + CodeNotInjected + `",error_message:"overlay not installed"});
}
`

func jsPing() string {
	return wrapJSEval(`return JSON.stringify({ok:true,data:{pong:!!window.` + guardName + `}});`)
}

func jsRender(view any) string {
	return wrapJSEval(jsOverlayGuard + `
ov.render(` + jsJSON(view) + `);
return JSON.stringify({ok:true});`)
}

func jsSnapshot(searchSelector string) string {
	return wrapJSEval(`
var search = "";
try {
  var input = document.querySelector(` + jsString(searchSelector) + `);
  if (input && typeof input.value === "string") search = input.value;
} catch (_) {}
return JSON.stringify({ok:true,data:{
  address: String(location.href || ""),
  title: String(document.title || ""),
  search_value: search,
  html: document.documentElement ? document.documentElement.outerHTML : ""
}});`)
}

func jsSessionGet(key string) string {
	return wrapJSEval(`
var v = window.sessionStorage.getItem(` + jsString(key) + `);
return JSON.stringify({ok:true,data:{found:v !== null,value:v === null ? "" : v}});`)
}

func jsSessionSet(key, value string) string {
	return wrapJSEval(`
window.sessionStorage.setItem(` + jsString(key) + `, ` + jsString(value) + `);
return JSON.stringify({ok:true});`)
}

func jsSessionDelete(key string) string {
	return wrapJSEval(`
window.sessionStorage.removeItem(` + jsString(key) + `);
return JSON.stringify({ok:true});`)
}

func jsInstallOverlay(rootID string) string {
	r := strings.NewReplacer(
		"__GUARD__", guardName,
		"__BINDING__", jsString(BindingName),
		"__ROOT_ID__", jsString(rootID),
	)
	return wrapJSEval(r.Replace(jsOverlayScript))
}

// jsOverlayScript mounts the panel root, the route observer and the gesture
// handlers. It only renders what it is told; every decision is made by the
// agent.
const jsOverlayScript = `
if (window.__GUARD__) {
  return JSON.stringify({ok:true,data:{installed:false}});
}
var bridge = __BINDING__;
function post(msg) {
  try { window[bridge](JSON.stringify(msg)); } catch (_) {}
}
var st = {root:null, view:null, href:String(location.href), height:0, drag:null};

function el(tag, text) {
  var n = document.createElement(tag);
  if (text !== undefined && text !== null) n.textContent = String(text);
  return n;
}
function button(action, label) {
  var b = el("button", label);
  b.setAttribute("data-mp-action", action);
  b.style.cssText = "border:0;background:none;cursor:pointer;font:inherit;padding:2px 6px;";
  return b;
}
function qualify(base, src) {
  src = String(src || "");
  if (/^(https?:|data:)/.test(src)) return src;
  return String(base || "").replace(/\/+$/, "") + "/" + src.replace(/^\/+/, "");
}
function renderData(item, metrics, base) {
  var box = el("div");
  if (item && item.name) box.appendChild(el("div", item.name));
  if (item && item.image) {
    var img = document.createElement("img");
    img.src = qualify(base, item.image);
    img.style.maxWidth = "100%";
    box.appendChild(img);
  }
  if (metrics) {
    var pre = el("pre", JSON.stringify(metrics, null, 2));
    pre.style.cssText = "white-space:pre-wrap;margin:6px 0;";
    box.appendChild(pre);
  }
  return box;
}
function renderCompare(v) {
  var wrap = el("div");
  wrap.style.cssText = "border-top:1px solid #eee;margin-top:6px;padding-top:6px;";
  var input = el("input");
  input.setAttribute("data-mp-compare-input", "1");
  input.placeholder = "Compare with (e.g. OP-02)";
  input.style.width = "60%";
  wrap.appendChild(input);
  wrap.appendChild(button("compare", "Compare"));
  var c = v.compare;
  if (!c) return wrap;
  input.value = c.candidate || "";
  wrap.appendChild(button("compare_clear", "Clear"));
  var side = el("div");
  side.style.cssText = "display:flex;gap:8px;";
  var left = renderData(v.item, v.metrics, v.base_url);
  var right = c.pending ? el("div", "Loading...") : (c.message ? el("div", c.message) : renderData(c.item, c.metrics, v.base_url));
  left.style.flex = "1";
  right.style.flex = "1";
  side.appendChild(left);
  side.appendChild(right);
  wrap.appendChild(side);
  return wrap;
}
function apply(v) {
  st.view = v;
  var root = st.root;
  if (!root) return;
  if (!v || !v.visible) {
    root.style.display = "none";
    return;
  }
  root.style.display = "block";
  var g = v.geometry || {};
  if (g.top !== undefined && g.top !== null) root.style.top = g.top + "px";
  if (g.left !== undefined && g.left !== null) { root.style.left = g.left + "px"; root.style.right = "auto"; }
  root.style.height = v.collapsed ? "auto" : ((g.height !== undefined && g.height !== null) ? g.height + "px" : "");
  root.textContent = "";

  var head = el("div");
  head.setAttribute("data-mp-handle", "1");
  head.style.cssText = "cursor:move;padding:6px 8px;display:flex;gap:4px;align-items:center;border-bottom:1px solid #eee;";
  var title = el("strong", v.code || "Market data");
  title.style.flex = "1";
  head.appendChild(title);
  head.appendChild(button(v.collapsed ? "expand" : "collapse", v.collapsed ? "+" : "-"));
  head.appendChild(button("close", "x"));
  root.appendChild(head);

  if (!v.collapsed) {
    var body = el("div");
    body.style.padding = "8px";
    if (v.mode === "loading") {
      body.appendChild(el("div", "Loading..."));
    } else if (v.mode === "message") {
      body.appendChild(el("p", v.message));
      if (v.can_retry) body.appendChild(button("retry", "Retry"));
    } else if (v.mode === "item") {
      body.appendChild(renderData(v.item, v.metrics, v.base_url));
      body.appendChild(renderCompare(v));
    }
    root.appendChild(body);
  }
  st.height = root.offsetHeight;
}
function mount() {
  if (st.root || !document.body) return;
  var root = el("div");
  root.id = __ROOT_ID__;
  root.style.cssText = "position:fixed;top:80px;right:24px;width:340px;z-index:2147483647;display:none;font:13px/1.4 sans-serif;color:#222;background:#fff;border:1px solid #ccc;border-radius:8px;box-shadow:0 4px 16px rgba(0,0,0,.2);overflow:auto;resize:vertical;";
  document.body.appendChild(root);
  st.root = root;

  root.addEventListener("click", function (ev) {
    var t = ev.target;
    var action = t && t.getAttribute ? t.getAttribute("data-mp-action") : null;
    if (!action) return;
    if (action === "compare") {
      var input = root.querySelector("[data-mp-compare-input]");
      post({type:"compare", code: input ? String(input.value) : ""});
      return;
    }
    post({type:action});
  });
  root.addEventListener("mousedown", function (ev) {
    var t = ev.target;
    if (!t || !t.closest || !t.closest("[data-mp-handle]") || t.getAttribute("data-mp-action")) return;
    var r = root.getBoundingClientRect();
    st.drag = {dx: ev.clientX - r.left, dy: ev.clientY - r.top};
    ev.preventDefault();
  });
  document.addEventListener("mousemove", function (ev) {
    if (!st.drag) return;
    root.style.top = Math.max(0, ev.clientY - st.drag.dy) + "px";
    root.style.left = Math.max(0, ev.clientX - st.drag.dx) + "px";
    root.style.right = "auto";
  });
  document.addEventListener("mouseup", function () {
    if (st.drag) {
      st.drag = null;
      var r = root.getBoundingClientRect();
      post({type:"drag_end", top:r.top, left:r.left});
      return;
    }
    if (root.style.display !== "none" && st.height && root.offsetHeight !== st.height) {
      st.height = root.offsetHeight;
      post({type:"resize_end", height:st.height});
    }
  });

  new MutationObserver(function () {
    var href = String(location.href);
    if (href === st.href) return;
    st.href = href;
    post({type:"mutation", href:href});
  }).observe(document.body, {childList:true, subtree:true});

  if (st.view) apply(st.view);
  post({type:"ready", href:String(location.href)});
}

window.__GUARD__ = {version:1, render:apply};
if (document.body) {
  mount();
} else {
  document.addEventListener("DOMContentLoaded", mount);
}
return JSON.stringify({ok:true,data:{installed:true}});
`

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// wrapJSEval wraps body in an IIFE that turns a thrown error into an
// EVAL_FAILURE envelope.
func wrapJSEval(body string) string {
	return `(function(){
try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}
