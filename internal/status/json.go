package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	Outstanding   int            `json:"outstanding"`
	Activities    []ActivityJSON `json:"activities"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Network       *NetworkJSON   `json:"network,omitempty"`
	Config        ConfigJSON     `json:"config"`
}

type ActivityJSON struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Rule               string  `json:"rule"`
	Phase              string  `json:"phase"`
	LED                bool    `json:"led"`
	Due                string  `json:"due,omitempty"`
	NextDue            string  `json:"next_due,omitempty"`
	LastCompleted      *string `json:"last_completed"`
	LastNotified       *string `json:"last_notified"`
	Dues               int     `json:"dues"`
	Acknowledgements   int     `json:"acknowledgements"`
	Escalations        int     `json:"escalations"`
	EscalationFailures int     `json:"escalation_failures"`
}

type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

type ConfigJSON struct {
	TickMs      int64  `json:"tick_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPPort    string `json:"http_port"`
	Board       string `json:"board"`
	Notifier    string `json:"notifier"`
	Database    string `json:"database"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func buildActivity(a Activity) ActivityJSON {
	return ActivityJSON{
		ID:                 string(a.ID),
		Name:               a.Name,
		Rule:               a.Rule,
		Phase:              a.Phase.String(),
		LED:                a.LEDOn(),
		Due:                formatTime(a.Due),
		NextDue:            formatTime(a.NextDue),
		LastCompleted:      formatOptional(a.LastCompleted),
		LastNotified:       formatOptional(a.LastNotified),
		Dues:               a.Dues,
		Acknowledgements:   a.Acknowledgements,
		Escalations:        a.Escalations,
		EscalationFailures: a.EscalationFailures,
	}
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     formatTime(snap.StartTime),
		Timestamp:     formatTime(snap.Now),
		Outstanding:   snap.Outstanding(),
		Activities:    make([]ActivityJSON, 0, len(snap.Activities)),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			TickMs:      snap.Config.TickMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			Board:       snap.Config.Board,
			Notifier:    snap.Config.Notifier,
			Database:    snap.Config.Database,
		},
	}
	for _, a := range snap.Activities {
		inner.Activities = append(inner.Activities, buildActivity(a))
	}
	if n := snap.Network; n != nil {
		inner.Network = &NetworkJSON{
			Type:       n.Type,
			IP:         n.IP,
			Status:     n.Status,
			Gateway:    n.Gateway,
			WifiStatus: n.WifiStatus,
			SSID:       n.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// FormatActivityJSON returns the JSON for a single activity.
func FormatActivityJSON(a Activity) []byte {
	data, _ := json.MarshalIndent(buildActivity(a), "", "  ")
	return data
}
