package networking

import (
	"fmt"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
)

// Manager applies an ordered set of components and removes them in reverse.
type Manager struct {
	components []NetworkingComponent
}

// NewManager creates a manager for components, applied in the given order.
func NewManager(components ...NetworkingComponent) *Manager {
	return &Manager{components: components}
}

// Components returns the managed components.
func (m *Manager) Components() []NetworkingComponent {
	return m.components
}

// Apply creates every component. If one fails, the ones created by this call
// are removed again and the error is returned.
func (m *Manager) Apply() error {
	for i, c := range m.components {
		if err := c.CreateIfNotExists(); err != nil {
			log.Errorf("Failed to apply %s: %v", c.GetDescription(), err)
			_ = m.undo(i)
			return fmt.Errorf("failed to apply %s: %w", c.GetType(), err)
		}
		log.Debugf("Applied %s", c.GetDescription())
	}
	return nil
}

// Undo removes every component in reverse order and returns the first error.
func (m *Manager) Undo() error {
	return m.undo(len(m.components))
}

func (m *Manager) undo(n int) error {
	var firstErr error
	for i := n - 1; i >= 0; i-- {
		c := m.components[i]
		if err := c.DeleteIfExists(); err != nil {
			log.Warnf("Failed to remove %s: %v", c.GetDescription(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Check reports the presence of every component.
func (m *Manager) Check() []ComponentStatus {
	statuses := make([]ComponentStatus, 0, len(m.components))
	for _, c := range m.components {
		status := ComponentStatus{
			Type:        c.GetType(),
			Description: c.GetDescription(),
			Command:     c.GetCommand(),
		}
		exists, err := c.IsExists()
		if err != nil {
			status.Error = err.Error()
		}
		status.Exists = exists
		statuses = append(statuses, status)
	}
	return statuses
}
