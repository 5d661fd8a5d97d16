package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/fourbuttons/internal/status"
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
	"when": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Local().Format("Mon 2 Jan 15:04")
	},
	"whenPtr": func(t *time.Time) string {
		if t == nil {
			return "never"
		}
		return t.Local().Format("Mon 2 Jan 15:04")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="30">
<title>Four Buttons</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.IDLE { color: #888; }
.AWAITING_ACK { color: orange; font-weight: bold; }
.ESCALATED { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
form { margin: 0; }
</style>
</head>
<body>
<h1>Four Buttons</h1>

<h2>Activities</h2>
<table>
<tr><th>Activity</th><th>State</th><th>Due</th><th>Next due</th><th>Last done</th><th></th></tr>
{{range .Activities}}<tr>
<td title="{{.Rule}}">{{.Name}}</td>
<td class="{{.Phase}}">{{.Phase}}</td>
<td>{{when .Due}}</td>
<td>{{when .NextDue}}</td>
<td>{{whenPtr .LastCompleted}}</td>
<td>{{if .LEDOn}}<form method="post" action="/activities/{{.ID}}/press"><button>Done</button></form>{{end}}</td>
</tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Board</th><td>{{.Config.Board}}</td></tr>
<tr><th>Notifier</th><td>{{.Config.Notifier}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// The template needs Uptime as a field, not a method.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
