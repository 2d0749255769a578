package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chartrec/internal/logging"
)

// DocumentAdapter reads OCR-converted document text from a per-subject
// directory tree:
//
//	<root>/<subject_id>/<category>/<document_id>.txt
//
// The OCR/conversion subsystem that produces these files is an external
// collaborator; missing directories mean "no documents", not an error.
type DocumentAdapter struct {
	name string
	root string
}

// NewDocumentAdapter creates an adapter over a converted-document tree.
func NewDocumentAdapter(name, root string) *DocumentAdapter {
	return &DocumentAdapter{name: name, root: root}
}

// Name implements Adapter.
func (a *DocumentAdapter) Name() string { return a.name }

// Query implements Adapter. Categories narrow the directory walk; an empty
// category list matches every category present for the subject.
func (a *DocumentAdapter) Query(ctx context.Context, c Criteria) ([]RawCandidate, error) {
	timer := logging.StartTimer(logging.CategorySource, "DocumentAdapter.Query")
	defer timer.Stop()

	subjectDir := filepath.Join(a.root, c.SubjectID)
	categories := c.DocumentCategories
	if len(categories) == 0 {
		entries, err := os.ReadDir(subjectDir)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", a.name, ErrUnavailable, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				categories = append(categories, e.Name())
			}
		}
	}

	var out []RawCandidate
	for _, category := range categories {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := filepath.Join(subjectDir, category)
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue // Category absent for this subject
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", a.name, ErrUnavailable, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if !a.inWindow(path, c) {
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				logging.Get(logging.CategorySource).Warn("%s: unreadable document %s: %v", a.name, path, err)
				continue
			}
			out = append(out, RawCandidate{
				Kind: KindDocument,
				ID:   filepath.Join(c.SubjectID, category, e.Name()),
				Text: string(data),
				Metadata: map[string]string{
					"category": category,
					"adapter":  a.name,
				},
			})
			if c.Limit > 0 && len(out) >= c.Limit {
				return out, nil
			}
		}
	}

	logging.Get(logging.CategorySource).Debug("%s: %d document candidates for %s/%s",
		a.name, len(out), c.SubjectID, c.TargetFactID)
	return out, nil
}

// inWindow applies the temporal window against the document mtime. Converted
// documents carry their clinical date in the filename when the OCR layer knows
// it; mtime is the fallback ordering signal.
func (a *DocumentAdapter) inWindow(path string, c Criteria) bool {
	if c.Since.IsZero() && c.Until.IsZero() {
		return true
	}
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	mt := info.ModTime()
	if !c.Since.IsZero() && mt.Before(c.Since) {
		return false
	}
	if !c.Until.IsZero() && mt.After(c.Until.Add(time.Second)) {
		return false
	}
	return true
}
