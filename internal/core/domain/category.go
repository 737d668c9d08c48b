package domain

// Category is one node of the catalog category forest.
// ParentID is nil for roots.
type Category struct {
	ID       int64
	ParentID *int64
	Name     string
}

// IsRoot reports whether the category has no parent.
func (c Category) IsRoot() bool {
	return c.ParentID == nil
}
