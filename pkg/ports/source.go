package ports

// SourceProvider is the editing-surface handle of a cell.
// It is read only at dispatch time.
type SourceProvider interface {
	Source() string
}

// SourceFunc adapts a function to SourceProvider.
type SourceFunc func() string

func (f SourceFunc) Source() string { return f() }
