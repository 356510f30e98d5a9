package jobs

import "fmt"

// PageKey returns the blob key of a normalized page image.
func PageKey(jobID string, pageIndex int) string {
	return fmt.Sprintf("jobs/%s/pages/%d.png", jobID, pageIndex)
}

// SourceKey returns the blob key of an uploaded source document.
func SourceKey(jobID string) string {
	return fmt.Sprintf("jobs/%s/source.pdf", jobID)
}
