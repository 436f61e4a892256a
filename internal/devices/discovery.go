package devices

import (
	"encoding/json"

	"github.com/neotalk/edge-ai/pkg/models"
)

// ProposeCapabilities inspects a raw payload and proposes capability
// declarations for an unknown device. JSON object keys holding numbers
// become metric capabilities; booleans become read-write switches.
func ProposeCapabilities(payload []byte) []models.Capability {
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil
	}
	var out []models.Capability
	for key, value := range decoded {
		switch value.(type) {
		case float64:
			out = append(out, models.Capability{
				Name:     key,
				CapType:  models.CapabilityMetric,
				DataType: "float",
				Access:   models.AccessRead,
			})
		case bool:
			out = append(out, models.Capability{
				Name:     key,
				CapType:  models.CapabilityCommand,
				DataType: "boolean",
				Access:   models.AccessReadWrite,
			})
		case string:
			out = append(out, models.Capability{
				Name:     key,
				CapType:  models.CapabilityMetric,
				DataType: "string",
				Access:   models.AccessRead,
			})
		}
	}
	return out
}
