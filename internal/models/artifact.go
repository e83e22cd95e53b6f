package models

// Artifact is the fetched source content a job analyzes. It is passed from
// the hosting client to the analysis client and never persisted.
type Artifact struct {
	Ref       InputRef `json:"ref"`
	Content   string   `json:"content"`
	Size      int      `json:"size"`      // Bytes of content after any truncation
	FileCount int      `json:"file_count"`
	Truncated bool     `json:"truncated"` // Content or file list was cut at a configured cap
	Skipped   []string `json:"skipped,omitempty"` // Paths excluded by filters or caps
}

// Issue is a tracker issue created from a terminal job's findings
type Issue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	URL    string `json:"url"`
}
