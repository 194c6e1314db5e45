package state

import (
	"sort"
	"time"
)

// Phase is the overall ingestion phase shown to users.
type Phase string

const (
	PhaseInProgress            Phase = "in-progress"
	PhaseComplete              Phase = "complete"
	PhaseCompleteWithAttention Phase = "complete-with-attention"
)

// Summary is the status reporter's view of a document.
type Summary struct {
	TotalFiles int `json:"total_files"`
	Completed  int `json:"completed"`
	Pending    int `json:"pending"`
	// Failed counts every failed record; Retrying is the subset that will
	// be attempted again.
	Failed          int             `json:"failed"`
	Retrying        int             `json:"retrying"`
	TotalChunks     int             `json:"total_chunks"`
	PercentComplete float64         `json:"percent_complete"`
	Phase           Phase           `json:"phase"`
	LastModified    time.Time       `json:"last_modified"`
	Lanes           []ImporterStats `json:"lanes"`
	Collections     []Collection    `json:"collections"`
	FailedFiles     []FileRecord    `json:"failed_files,omitempty"`
}

// Summarize derives a Summary. A failure counts as retrying under the same
// rule the ingest retry policy applies, with maxAttempts attempts. A
// document with failed records is never "complete".
func Summarize(doc *Document, maxAttempts int) Summary {
	sum := Summary{
		TotalFiles:   len(doc.Files),
		LastModified: doc.Metadata.LastModified,
	}

	for _, f := range doc.Files {
		switch f.Status {
		case StatusCompleted:
			sum.Completed++
			sum.TotalChunks += f.Chunks
		case StatusPending:
			sum.Pending++
		case StatusFailed:
			sum.Failed++
			if f.Retryable(maxAttempts) {
				sum.Retrying++
			}
			sum.FailedFiles = append(sum.FailedFiles, *f)
		}
	}
	sort.Slice(sum.FailedFiles, func(i, j int) bool { return sum.FailedFiles[i].Path < sum.FailedFiles[j].Path })

	running := false
	for _, st := range doc.Importers {
		sum.Lanes = append(sum.Lanes, *st)
		running = running || st.Running
	}
	sort.Slice(sum.Lanes, func(i, j int) bool { return laneOrder(sum.Lanes[i].Lane) < laneOrder(sum.Lanes[j].Lane) })

	for _, c := range doc.Collections {
		sum.Collections = append(sum.Collections, *c)
	}
	sort.Slice(sum.Collections, func(i, j int) bool { return sum.Collections[i].Name < sum.Collections[j].Name })

	if sum.TotalFiles == 0 {
		sum.PercentComplete = 100
	} else {
		sum.PercentComplete = float64(sum.Completed) * 100 / float64(sum.TotalFiles)
	}

	switch {
	case sum.Pending > 0 || sum.Retrying > 0 || running:
		sum.Phase = PhaseInProgress
	case sum.Failed > 0:
		sum.Phase = PhaseCompleteWithAttention
	default:
		sum.Phase = PhaseComplete
	}
	return sum
}

func laneOrder(name string) int {
	switch name {
	case "hot":
		return 0
	case "warm":
		return 1
	case "cold":
		return 2
	default:
		return 3
	}
}
