package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CheckSources checks that the transcript roots exist and counts the
// transcripts one level below them, where each project keeps its files.
// Missing roots are a warning: watch picks them up once they appear.
func (c *Checker) CheckSources(roots []string, pattern string) CheckResult {
	result := CheckResult{
		Name: "sources",
	}
	if len(roots) == 0 {
		result.Status = StatusFail
		result.Required = true
		result.Message = "no transcript roots configured"
		return result
	}

	var missing []string
	files := 0
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			missing = append(missing, root)
			continue
		}
		matches, _ := filepath.Glob(filepath.Join(root, "*", pattern))
		files += len(matches)
	}

	result.Message = fmt.Sprintf("%d roots, %d transcripts", len(roots)-len(missing), files)
	switch {
	case len(missing) > 0:
		result.Status = StatusWarn
		result.Details = "missing: " + strings.Join(missing, ", ")
	case files == 0:
		result.Status = StatusWarn
		result.Details = "no transcripts found yet"
	default:
		result.Status = StatusPass
	}
	return result
}
