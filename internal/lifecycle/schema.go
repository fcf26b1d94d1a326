package lifecycle

import (
	"fmt"
	"sort"
	"strings"
)

// PersistedSchema is what the database reports about its status set.
type PersistedSchema struct {
	Version  int
	Statuses []string
}

// CheckPersisted fails when the stored status set or version has drifted from
// the definition compiled into the binary.
func (d *Definition) CheckPersisted(persisted PersistedSchema) error {
	if persisted.Version != d.Version {
		return fmt.Errorf("lifecycle version mismatch: database has %d, binary expects %d", persisted.Version, d.Version)
	}

	stored := make(map[Status]struct{}, len(persisted.Statuses))
	var unknown []string
	for _, name := range persisted.Statuses {
		status := Status(name)
		stored[status] = struct{}{}
		if !d.Valid(status) {
			unknown = append(unknown, name)
		}
	}
	var missing []string
	for _, info := range d.Statuses() {
		if _, ok := stored[info.Name]; !ok {
			missing = append(missing, string(info.Name))
		}
	}
	if len(unknown) == 0 && len(missing) == 0 {
		return nil
	}
	sort.Strings(unknown)
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing "+strings.Join(missing, ","))
	}
	if len(unknown) > 0 {
		parts = append(parts, "unknown "+strings.Join(unknown, ","))
	}
	return fmt.Errorf("lifecycle status set mismatch: %s", strings.Join(parts, "; "))
}
