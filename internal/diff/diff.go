// Package diff compares rendered trees.
package diff

import (
	"html"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Differ turns two documents into one annotated comparison.
type Differ interface {
	Diff(before, after string) (string, error)
}

// HTML marks insertions and deletions inline with <ins> and <del> elements.
// Unchanged text is escaped and kept as is.
type HTML struct{}

// Diff implements Differ.
func (HTML) Diff(before, after string) (string, error) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	for _, d := range diffs {
		text := html.EscapeString(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			b.WriteString(text)
		case diffmatchpatch.DiffDelete:
			b.WriteString(`<del class="diff-removed">`)
			b.WriteString(text)
			b.WriteString(`</del>`)
		case diffmatchpatch.DiffInsert:
			b.WriteString(`<ins class="diff-added">`)
			b.WriteString(text)
			b.WriteString(`</ins>`)
		}
	}
	return b.String(), nil
}

// ANSI color codes used by Lines when Color is set.
const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
)

// Lines produces a line-oriented diff: unchanged lines prefixed with a space,
// removed lines with "-" and added lines with "+".
type Lines struct {
	Color bool
}

// Diff implements Differ.
func (l Lines) Diff(before, after string) (string, error) {
	dmp := diffmatchpatch.New()
	chars1, chars2, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(chars1, chars2, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var b strings.Builder
	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		prefix, start, end := " ", "", ""
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
			if l.Color {
				start, end = colorRed, colorReset
			}
		case diffmatchpatch.DiffInsert:
			prefix = "+"
			if l.Color {
				start, end = colorGreen, colorReset
			}
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			b.WriteString(start + prefix + line + end + "\n")
		}
	}
	return b.String(), nil
}

// Changed reports whether a Lines diff contains any change.
func Changed(out string) bool {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimPrefix(strings.TrimPrefix(line, colorRed), colorGreen)
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
			return true
		}
	}
	return false
}
