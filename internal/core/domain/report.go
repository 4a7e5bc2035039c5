package domain

// Terminal per-container statuses recorded during a discovery pass. Anything
// other than StatusOK and StatusNoIntent is a failure for that container;
// none of them abort the pass.
const (
	StatusOK             = "ok"
	StatusNoSourceLabel  = "missing compose file label"
	StatusNoServiceLabel = "missing compose service label"
	StatusFileUnreadable = "failed to read compose file"
	StatusNotFound       = "service not found in compose file"
	StatusNoIntent       = "no proxy configuration declared"
	StatusInvalidIntent  = "invalid proxy configuration"
)

// ReportNoSource keys report entries for containers that carry no compose
// file label at all.
const ReportNoSource = "(none)"

// ProcessingReport maps source file path -> container name -> terminal
// status. Purely observational; it never feeds back into control flow.
type ProcessingReport map[string]map[string]string

// Set records the status for one container under the given source file.
func (r ProcessingReport) Set(sourceFile, container, status string) {
	byContainer, ok := r[sourceFile]
	if !ok {
		byContainer = make(map[string]string)
		r[sourceFile] = byContainer
	}
	byContainer[container] = status
}

// Get returns the recorded status, or "" if none.
func (r ProcessingReport) Get(sourceFile, container string) string {
	return r[sourceFile][container]
}
