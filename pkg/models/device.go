package models

import "time"

// CapabilityType classifies what a device capability represents.
type CapabilityType string

const (
	CapabilityMetric  CapabilityType = "metric"
	CapabilityCommand CapabilityType = "command"
	CapabilityEvent   CapabilityType = "event"
)

// AccessMode declares how a capability may be used.
type AccessMode string

const (
	AccessRead      AccessMode = "read"
	AccessWrite     AccessMode = "write"
	AccessReadWrite AccessMode = "read_write"
)

// Capability is a named metric, command, or event exposed by a device.
type Capability struct {
	Name        string         `json:"name"`
	CapType     CapabilityType `json:"cap_type"`
	DataType    string         `json:"data_type"`
	Access      AccessMode     `json:"access"`
	Unit        string         `json:"unit,omitempty"`
	ValidValues []string       `json:"valid_values,omitempty"`
}

// Device is a registered edge device.
type Device struct {
	ID           string       `json:"id"`
	Type         string       `json:"type"`
	Name         string       `json:"name,omitempty"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	Location     string       `json:"location,omitempty"`
	Connection   string       `json:"connection"`
	TemplateID   string       `json:"template_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at,omitempty"`
}

// FindCapability returns the named capability, if declared.
func (d *Device) FindCapability(name string) (Capability, bool) {
	for _, c := range d.Capabilities {
		if c.Name == name {
			return c, true
		}
	}
	return Capability{}, false
}

// TelemetryPoint is a single time-series sample for a device metric.
type TelemetryPoint struct {
	Timestamp time.Time         `json:"ts"`
	Value     float64           `json:"value"`
	Quality   string            `json:"quality,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
