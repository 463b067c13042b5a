package protocol

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed tables/*.yaml
var tableFS embed.FS

// tableFile is the on-disk shape of an embedded packet table.
type tableFile struct {
	Version  string                           `yaml:"version"`
	Protocol int32                            `yaml:"protocol"`
	Aliases  []string                         `yaml:"aliases"`
	Phases   map[Phase]map[Direction][]string `yaml:"phases"`
}

type tableKey struct {
	phase     Phase
	direction Direction
}

// Table maps packet ids to names (and back) for one protocol version.
type Table struct {
	Version  string
	Protocol int32

	names map[tableKey][]string
	ids   map[tableKey]map[string]int32
}

var (
	tablesOnce sync.Once
	tables     map[string]*Table
	tablesErr  error
)

func loadTables() {
	tables = make(map[string]*Table)
	entries, err := fs.ReadDir(tableFS, "tables")
	if err != nil {
		tablesErr = fmt.Errorf("failed to read packet tables: %w", err)
		return
	}
	for _, entry := range entries {
		data, err := tableFS.ReadFile("tables/" + entry.Name())
		if err != nil {
			tablesErr = fmt.Errorf("failed to read packet table %s: %w", entry.Name(), err)
			return
		}
		t, aliases, err := parseTable(data)
		if err != nil {
			tablesErr = fmt.Errorf("failed to parse packet table %s: %w", entry.Name(), err)
			return
		}
		tables[t.Version] = t
		for _, alias := range aliases {
			tables[alias] = t
		}
	}
}

func parseTable(data []byte) (*Table, []string, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, err
	}
	if f.Version == "" || f.Protocol <= 0 {
		return nil, nil, fmt.Errorf("table is missing version or protocol")
	}

	t := &Table{
		Version:  f.Version,
		Protocol: f.Protocol,
		names:    make(map[tableKey][]string),
		ids:      make(map[tableKey]map[string]int32),
	}
	for phase, dirs := range f.Phases {
		for dir, names := range dirs {
			key := tableKey{phase, dir}
			t.names[key] = names
			byName := make(map[string]int32, len(names))
			for id, name := range names {
				if _, dup := byName[name]; dup {
					return nil, nil, fmt.Errorf("duplicate packet %q in %s/%s", name, phase, dir)
				}
				byName[name] = int32(id)
			}
			t.ids[key] = byName
		}
	}
	return t, f.Aliases, nil
}

// LookupTable returns the packet table for a version string such as "1.20.4".
func LookupTable(version string) (*Table, error) {
	tablesOnce.Do(loadTables)
	if tablesErr != nil {
		return nil, tablesErr
	}
	t, ok := tables[version]
	if !ok {
		return nil, fmt.Errorf("unsupported protocol version %q (supported: %s)",
			version, strings.Join(SupportedVersions(), ", "))
	}
	return t, nil
}

// SupportedVersions lists every version string with a packet table.
func SupportedVersions() []string {
	tablesOnce.Do(loadTables)
	out := make([]string, 0, len(tables))
	for v := range tables {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Name returns the packet name for an id. Ids missing from the table are
// named unknown_0xNN so they can still be relayed.
func (t *Table) Name(phase Phase, dir Direction, id int32) string {
	names := t.names[tableKey{phase, dir}]
	if id >= 0 && int(id) < len(names) {
		return names[id]
	}
	return fmt.Sprintf("unknown_0x%02x", id)
}

// ID returns the packet id for a name.
func (t *Table) ID(phase Phase, dir Direction, name string) (int32, error) {
	if id, ok := t.ids[tableKey{phase, dir}][name]; ok {
		return id, nil
	}
	var id int32
	if _, err := fmt.Sscanf(name, "unknown_0x%x", &id); err == nil {
		return id, nil
	}
	return 0, fmt.Errorf("%w: %s/%s/%s", ErrUnknownPacket, phase, dir, name)
}
