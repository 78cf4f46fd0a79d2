package networking

// ComponentType identifies the type of networking component
type ComponentType string

const (
	ComponentTypeIPRule   ComponentType = "ip_rule"
	ComponentTypeIPRoute  ComponentType = "ip_route"
	ComponentTypeIPTables ComponentType = "iptables"
)

// NetworkingComponent represents one piece of system network state owned by
// the filter: the upstream route, the bypass rule or the capture chain.
// The same interface drives setup, teardown and self-check.
type NetworkingComponent interface {
	// IsExists checks if the component currently exists in the system
	IsExists() (bool, error)

	// CreateIfNotExists creates the component if it doesn't exist
	CreateIfNotExists() error

	// DeleteIfExists removes the component if it exists
	DeleteIfExists() error

	// GetType returns the component type for categorization
	GetType() ComponentType

	// GetDescription returns human-readable description
	GetDescription() string

	// GetCommand returns the CLI command for manual execution (debugging)
	GetCommand() string
}

// ComponentStatus is the self-check result for one component.
type ComponentStatus struct {
	Type        ComponentType `json:"type"`
	Description string        `json:"description"`
	Command     string        `json:"command"`
	Exists      bool          `json:"exists"`
	Error       string        `json:"error,omitempty"`
}
