package models

// Manifest is the upstream-published metadata document describing one
// integration domain. Fields not listed here are ignored on decode.
type Manifest struct {
	Domain          string                 `json:"domain"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description,omitempty"`
	Documentation   string                 `json:"documentation,omitempty"`
	Icon            string                 `json:"icon,omitempty"`
	IntegrationType string                 `json:"integration_type,omitempty"`
	IoTClass        string                 `json:"iot_class,omitempty"`
	ConfigFlow      bool                   `json:"config_flow,omitempty"`
	FlowType        string                 `json:"flow_type,omitempty"`
	FlowConfig      map[string]interface{} `json:"flow_config,omitempty"`
	Handler         string                 `json:"handler,omitempty"`
	Requirements    []string               `json:"requirements,omitempty"`
	Dependencies    []string               `json:"dependencies,omitempty"`
	Codeowners      []string               `json:"codeowners,omitempty"`
	QualityScale    string                 `json:"quality_scale,omitempty"`
	Version         string                 `json:"version,omitempty"`
}
