// Package formats holds the static debate format catalog: built-in
// defaults plus any formats defined in a YAML file.
package formats

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dialectica/realtime/internal/room"
)

// Catalog resolves format names for the room store.
type Catalog struct {
	formats map[string]room.Format
}

var _ room.FormatSource = (*Catalog)(nil)

// Get implements room.FormatSource.
func (c *Catalog) Get(name string) (room.Format, bool) {
	f, ok := c.formats[name]
	return f, ok
}

// Names lists the available format names.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.formats))
	for name := range c.formats {
		names = append(names, name)
	}
	return names
}

// Defaults returns the built-in catalog.
func Defaults() *Catalog {
	standardRoles := []room.RoleSlot{
		{Name: room.RoleDebaterA, Capacity: 1},
		{Name: room.RoleDebaterB, Capacity: 1},
		{Name: room.RoleJudge, Capacity: 3},
		{Name: room.RoleAudience, Capacity: 0},
	}

	standard := room.Format{
		Name:  "standard",
		Roles: standardRoles,
		Phases: []room.Phase{
			{Name: "opening-a", Speaker: room.RoleDebaterA, Duration: 4 * time.Minute},
			{Name: "opening-b", Speaker: room.RoleDebaterB, Duration: 4 * time.Minute},
			{Name: "rebuttal-a", Speaker: room.RoleDebaterA, Duration: 3 * time.Minute},
			{Name: "rebuttal-b", Speaker: room.RoleDebaterB, Duration: 3 * time.Minute},
			{Name: "closing-a", Speaker: room.RoleDebaterA, Duration: 2 * time.Minute},
			{Name: "closing-b", Speaker: room.RoleDebaterB, Duration: 2 * time.Minute},
		},
	}

	crossExam := room.Format{
		Name:  "cross-examination",
		Roles: standardRoles,
		Phases: []room.Phase{
			{Name: "opening-a", Speaker: room.RoleDebaterA, Duration: 4 * time.Minute},
			{Name: "opening-b", Speaker: room.RoleDebaterB, Duration: 4 * time.Minute},
			{Name: "cross-examination", Speaker: room.RoleDebaterA, Duration: 5 * time.Minute, Interruptible: true},
			{Name: "closing-a", Speaker: room.RoleDebaterA, Duration: 2 * time.Minute},
			{Name: "closing-b", Speaker: room.RoleDebaterB, Duration: 2 * time.Minute},
		},
	}

	return &Catalog{formats: map[string]room.Format{
		standard.Name:  standard,
		crossExam.Name: crossExam,
	}}
}

type fileFormat struct {
	Name   string `yaml:"name"`
	Roles  []struct {
		Name     string `yaml:"name"`
		Capacity int    `yaml:"capacity"`
	} `yaml:"roles"`
	Phases []struct {
		Name          string `yaml:"name"`
		Speaker       string `yaml:"speaker"`
		DurationSec   int    `yaml:"duration_sec"`
		Interruptible bool   `yaml:"interruptible"`
	} `yaml:"phases"`
}

type catalogFile struct {
	Formats []fileFormat `yaml:"formats"`
}

// Load parses a YAML format file on top of the built-in defaults. A file
// entry with a default's name overrides it.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read format file: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from raw YAML on top of the defaults.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse format file: %w", err)
	}

	catalog := Defaults()
	for _, ff := range file.Formats {
		format, err := convert(ff)
		if err != nil {
			return nil, fmt.Errorf("format %q: %w", ff.Name, err)
		}
		catalog.formats[format.Name] = format
	}
	return catalog, nil
}

func convert(ff fileFormat) (room.Format, error) {
	format := room.Format{Name: ff.Name}
	for _, r := range ff.Roles {
		format.Roles = append(format.Roles, room.RoleSlot{
			Name:     room.Role(r.Name),
			Capacity: r.Capacity,
		})
	}
	for _, p := range ff.Phases {
		format.Phases = append(format.Phases, room.Phase{
			Name:          p.Name,
			Speaker:       room.Role(p.Speaker),
			Duration:      time.Duration(p.DurationSec) * time.Second,
			Interruptible: p.Interruptible,
		})
	}
	if err := validate(format); err != nil {
		return room.Format{}, err
	}
	return format, nil
}

func validate(f room.Format) error {
	if f.Name == "" {
		return fmt.Errorf("format name is required")
	}
	if len(f.Phases) == 0 {
		return fmt.Errorf("at least one phase is required")
	}

	seen := make(map[room.Role]bool)
	for _, slot := range f.Roles {
		if slot.Name == "" {
			return fmt.Errorf("role name is required")
		}
		if seen[slot.Name] {
			return fmt.Errorf("duplicate role %q", slot.Name)
		}
		seen[slot.Name] = true
		if slot.Capacity < 0 {
			return fmt.Errorf("role %q has negative capacity", slot.Name)
		}
	}

	for _, phase := range f.Phases {
		if phase.Duration <= 0 {
			return fmt.Errorf("phase %q needs a positive duration", phase.Name)
		}
		capacity, ok := f.SlotCapacity(phase.Speaker)
		if !ok {
			return fmt.Errorf("phase %q speaker %q is not a role of this format", phase.Name, phase.Speaker)
		}
		// Speaking slots must be uniquely held so the active speaker is
		// unambiguous.
		if capacity != 1 {
			return fmt.Errorf("phase %q speaker %q must have capacity 1", phase.Name, phase.Speaker)
		}
	}
	return nil
}
