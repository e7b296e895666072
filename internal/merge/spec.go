package merge

import "github.com/sentinelsync/cdc-relay/internal/models"

// TableSpec describes one tracked table. ResolveKey maps a raw change row
// to the business key of the owning aggregate root; dependent tables
// typically read a foreign-key column out of the captured values. A nil
// ResolveKey uses the row's own key (the root table case).
type TableSpec struct {
	Name       string
	ResolveKey func(models.ChangeRow) string
}

// SetSpec is the static registry entry for one tracked table-set: the root
// table, its dependents, and the projection applied to current row state
// before hashing. This replaces any runtime type inspection: every tracked
// entity registers its mapping explicitly.
type SetSpec struct {
	Name     string
	Subject  string
	Root     TableSpec
	Children []TableSpec

	// Project trims or reshapes the current row state before hashing and
	// publishing. Nil means identity.
	Project func(map[string]any) map[string]any
}

// Tables returns all tracked table names, root first.
func (s SetSpec) Tables() []string {
	out := make([]string, 0, 1+len(s.Children))
	out = append(out, s.Root.Name)
	for _, c := range s.Children {
		out = append(out, c.Name)
	}
	return out
}

// RootKey resolves the aggregate-root key for any tracked row.
func (s SetSpec) RootKey(row models.ChangeRow) string {
	if row.Table == s.Root.Name {
		if s.Root.ResolveKey != nil {
			return s.Root.ResolveKey(row)
		}
		return row.Key
	}
	for _, c := range s.Children {
		if c.Name == row.Table && c.ResolveKey != nil {
			return c.ResolveKey(row)
		}
	}
	return row.Key
}

func (s SetSpec) project(v map[string]any) map[string]any {
	if s.Project == nil {
		return v
	}
	return s.Project(v)
}
