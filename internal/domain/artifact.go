package domain

// Artifact is the raw input submitted for analysis.
type Artifact struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Size returns the artifact size in bytes.
func (a Artifact) Size() int {
	return len(a.Data)
}

// Validate checks that there is something to analyze.
func (a Artifact) Validate() error {
	if len(a.Data) == 0 {
		return ErrEmptyArtifact
	}
	return nil
}
