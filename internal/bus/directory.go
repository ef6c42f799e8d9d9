package bus

import (
	"sort"
	"strings"
	"sync"

	platformstrings "certbridge/pkg/platform/strings"
)

// Directory maps organization names to bus identities. Lookups are
// case-insensitive; the original spelling is kept for display.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]Identity
}

// NewDirectory seeds a directory from identities.
func NewDirectory(identities ...Identity) *Directory {
	d := &Directory{entries: make(map[string]Identity, len(identities))}
	for _, ident := range identities {
		d.Register(ident)
	}
	return d
}

// Register adds or replaces an identity. Blank names are ignored.
func (d *Directory) Register(ident Identity) {
	key := strings.ToLower(strings.TrimSpace(ident.Name))
	if key == "" {
		return
	}
	ident.Name = strings.TrimSpace(ident.Name)
	if ident.ID == "" {
		ident.ID = ident.Name
	}
	d.mu.Lock()
	d.entries[key] = ident
	d.mu.Unlock()
}

// Resolve looks up an organization by name.
func (d *Directory) Resolve(orgName string) (Identity, error) {
	d.mu.RLock()
	ident, ok := d.entries[strings.ToLower(strings.TrimSpace(orgName))]
	d.mu.RUnlock()
	if !ok {
		return Identity{}, &OrgNotFoundError{Org: orgName, Known: d.Names()}
	}
	return ident, nil
}

// Names returns the registered organization names, sorted.
func (d *Directory) Names() []string {
	d.mu.RLock()
	names := make([]string, 0, len(d.entries))
	for _, ident := range d.entries {
		names = append(names, ident.Name)
	}
	d.mu.RUnlock()
	names = platformstrings.DedupeFold(names)
	sort.Strings(names)
	return names
}

// ParseDirectory reads "Name=ID" pairs separated by commas. Entries without
// an "=" use the name as the id.
func ParseDirectory(spec string) []Identity {
	var out []Identity
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, ident, found := strings.Cut(part, "=")
		if !found {
			ident = name
		}
		out = append(out, Identity{Name: strings.TrimSpace(name), ID: strings.TrimSpace(ident)})
	}
	return out
}
