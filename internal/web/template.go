package web

import (
	"fmt"
	"html/template"
	"io"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/buttonman/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"orIdle": func(s string) string {
		if s == "" {
			return "idle"
		}
		return s
	},
	"inc": func(i int) int { return i + 1 },
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Button Panel</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.pressed { color: green; font-weight: bold; }
.released { color: #888; }
.failed { color: red; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; background: orange; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
</style>
</head>
<body>
<h1>Button Panel<span id="live-dot" class="live-dot" title="connecting"></span></h1>

<h2>Buttons</h2>
<table>
{{range $i, $k := .Panel.Keys}}<tr><th>Key {{inc $i}} (GPIO {{$k.Pin}})</th><td id="key{{inc $i}}" class="{{if $k.Pressed}}pressed{{else}}released{{end}}">{{orIdle (printf "%s" $k.State)}}</td></tr>
{{end}}<tr><th>Sequence</th><td id="sequence">{{orIdle (printf "%s" .Panel.Sequence)}}</td></tr>
<tr><th>Input</th><td id="input">{{if .Panel.InputEnabled}}enabled{{else}}disabled{{end}}</td></tr>
</table>

<h2>Last Action</h2>
<table id="last-action">
{{with .LastAction}}<tr><th>Slot</th><td>{{.Slot}} ({{.Kind}})</td></tr>
<tr><th>At</th><td>{{.Time.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Result</th><td class="{{if .Error}}failed{{end}}">{{if .Error}}{{.Error}}{{else}}ok{{end}}</td></tr>
{{else}}<tr><td>none yet</td></tr>{{end}}
</table>

<h2>Action Slots</h2>
<table>
{{range .Slots}}<tr><th>{{.Name}}</th><td>{{.Kind}}</td><td id="count-{{.Name}}">{{.Count}}</td></tr>
{{end}}</table>

<h2>Boot Check</h2>
<table>
{{if .Boot.Ran}}<tr><th>Presses</th><td>{{.Boot.Presses}}</td></tr>
<tr><th>Longest</th><td>{{.Boot.Longest}}</td></tr>
<tr><th>Triggered</th><td>{{if .Boot.Triggered}}yes{{else}}no{{end}}</td></tr>
{{else}}<tr><td>skipped</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
{{if .MQTTBuffered}}<tr><th>Buffered</th><td>{{.MQTTBuffered}} messages</td></tr>{{end}}
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}none{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Hold</th><td>{{.Config.HoldMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }
  function text(id, v) {
    var el = document.getElementById(id);
    if (el) { el.textContent = v; }
  }
  function apply(s) {
    s.keys.forEach(function(k) {
      var el = document.getElementById(k.name);
      if (!el) { return; }
      el.textContent = k.state;
      el.className = k.pressed ? "pressed" : "released";
    });
    text("sequence", s.sequence);
    text("input", s.input_enabled ? "enabled" : "disabled");
    Object.keys(s.action_counts.slots).forEach(function(name) {
      text("count-" + name, s.action_counts.slots[name]);
    });
  }
  function connect() {
    var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onmessage = function(ev) {
      try { apply(JSON.parse(ev.data).status); } catch (e) {}
    };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
  }
  connect();
})();
</script>
</body>
</html>
`

// slotRow is one line of the action slot table.
type slotRow struct {
	Name  string
	Kind  string
	Count int
}

func slotRows(snap status.Snapshot) []slotRow {
	counts := make(map[string]int)
	for n := 1; n < len(snap.Counts.Clicks); n++ {
		counts[status.ClickSlot(n)] = snap.Counts.Clicks[n]
	}
	for n, c := range snap.Counts.Holds {
		counts[status.HoldSlot(n)] = c
	}
	counts["boot"] = snap.Counts.Boot

	rows := make([]slotRow, 0, len(snap.Config.Slots))
	for name, kind := range snap.Config.Slots {
		rows = append(rows, slotRow{Name: name, Kind: kind, Count: counts[name]})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Slots  []slotRow
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Slots:    slotRows(snap),
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Warnf("web: render index: %v", err)
	}
}
