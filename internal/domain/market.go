package domain

// Market holds the metadata the watcher consumes for human-readable labels.
// It is produced by the Gamma API, never mutated here.
type Market struct {
	ID       string
	Slug     string
	Question string
	Outcomes []string
	Active   bool
	Closed   bool
}
