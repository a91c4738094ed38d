package engine

import (
	"fmt"
	"os"
	"strings"
)

// LabelTable maps class indices to display names. Out-of-range indices get a
// synthesized placeholder so a model with more classes than the names file
// still produces usable detections.
type LabelTable struct {
	names []string
}

// NewLabelTable builds a table from an in-memory name list.
func NewLabelTable(names []string) *LabelTable {
	return &LabelTable{names: names}
}

// LoadLabelTable reads one label per line. Windows CRLF line endings are
// tolerated and blank lines are skipped.
func LoadLabelTable(path string) (*LabelTable, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := strings.Split(string(b), "\n")
	names := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if l != "" {
			names = append(names, l)
		}
	}
	return &LabelTable{names: names}, nil
}

// Name returns the label for a class index, or "class_N" when the index has
// no entry.
func (t *LabelTable) Name(classID int) string {
	if t == nil || classID < 0 || classID >= len(t.names) {
		return fmt.Sprintf("class_%d", classID)
	}
	return t.names[classID]
}

// Len returns the number of named classes.
func (t *LabelTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.names)
}
