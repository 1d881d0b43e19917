package store

// DeviceView is the wire representation of a device used by both the REST
// device list and the WebSocket devices_snapshot message.
type DeviceView struct {
	ID                     string   `json:"id"`
	DeviceID               string   `json:"deviceId"`
	Name                   string   `json:"name"`
	Tenant                 string   `json:"tenant"`
	Connected              bool     `json:"connected"`
	Online                 bool     `json:"online"`
	LastSeen               int64    `json:"lastSeen"`
	AgentVersion           string   `json:"agentVersion"`
	ComplianceFlag         bool     `json:"complianceFlag"`
	ComplianceCount        int      `json:"complianceCount"`
	ComplianceLastAt       int64    `json:"complianceLastAt,omitempty"`
	ComplianceLastSeverity Severity `json:"complianceLastSeverity,omitempty"`
}

// DeviceViews builds the device list, keeping only devices for which
// allowTenant(tenant) is true (pass nil to keep every device).
func (s *Store) DeviceViews(allowTenant func(tenant string) bool) []DeviceView {
	devices := s.GetDevices()
	out := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		if allowTenant != nil && !allowTenant(d.Tenant) {
			continue
		}
		alias, _ := s.GetAlias(d.ID)
		agg := s.Aggregate(d.ID)
		name := alias.Label
		if name == "" {
			name = d.ID
		}
		out = append(out, DeviceView{
			ID:                     d.ID,
			DeviceID:               d.ID,
			Name:                   name,
			Tenant:                 d.Tenant,
			Connected:              d.Connected,
			Online:                 d.Connected,
			LastSeen:               d.LastSeen,
			AgentVersion:           d.AgentVersion,
			ComplianceFlag:         agg.Count > 0,
			ComplianceCount:        agg.Count,
			ComplianceLastAt:       agg.LastAt,
			ComplianceLastSeverity: agg.LastSeverity,
		})
	}
	return out
}
