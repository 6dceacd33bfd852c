package dashboard

import (
	"fmt"
	"sync"

	"github.com/signalsfoundry/flywheel-launcher/profile"
)

// Option is one chooser entry.
type Option struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// Chooser is the dashboard's profile picker. The control loop reads it
// through Selected; dashboard clients write it through Select.
type Chooser struct {
	mu       sync.RWMutex
	options  []Option
	def      string
	selected string
}

// NewChooser offers every profile in reg with the registry default selected.
func NewChooser(reg *profile.Registry) *Chooser {
	names := reg.Names()
	labels := reg.DisplayNames()
	opts := make([]Option, len(names))
	for i := range names {
		opts[i] = Option{Name: names[i], Label: labels[i]}
	}
	return &Chooser{options: opts, def: reg.DefaultName(), selected: reg.DefaultName()}
}

// Select changes the choice. Only offered names are accepted.
func (c *Chooser) Select(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.options {
		if o.Name == name {
			c.selected = name
			return nil
		}
	}
	return fmt.Errorf("%w: %q is not offered", profile.ErrProfileNotFound, name)
}

// Selected returns the current choice. ok is false when nothing is offered.
func (c *Chooser) Selected() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.selected == "" {
		return c.def, c.def != ""
	}
	return c.selected, true
}

// Options returns the offered entries in registry order.
func (c *Chooser) Options() []Option {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Option(nil), c.options...)
}

// Default returns the name selected at startup.
func (c *Chooser) Default() string { return c.def }
