package pack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"widgetree/internal/cas"
	"widgetree/internal/tree"
	"widgetree/internal/version"
)

// KindCommit is the object kind of an exported commit.
const KindCommit = "Commit"

// CommitRecord is the exported form of one commit.
type CommitRecord struct {
	Digest    string         `json:"digest"`
	Parent    string         `json:"parent,omitempty"`
	Author    string         `json:"author,omitempty"`
	CreatedAt int64          `json:"createdAt"`
	TreeHash  string         `json:"treeHash"`
	Tree      *tree.JSONNode `json:"tree"`
}

// ExportHistory writes the history of t, oldest commit first, as a pack
// labelled with the tracker UID.
func ExportHistory(ctx context.Context, svc *version.Service, t *version.Tracker, w io.Writer) (int, error) {
	history, err := t.HistoryList(ctx)
	if err != nil {
		return 0, err
	}
	digests := make(map[int64]string, len(history))
	for _, c := range history {
		digests[c.ID] = c.DigestHex()
	}

	objects := make([]Object, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		c := history[i]
		root, err := c.Root(ctx)
		if err != nil {
			return 0, err
		}
		if _, err := svc.Engine().MaybePrefetchTree(ctx, root); err != nil {
			return 0, err
		}
		doc, err := svc.Engine().ToJSON(ctx, root)
		if err != nil {
			return 0, err
		}
		rec := CommitRecord{
			Digest:    c.DigestHex(),
			CreatedAt: c.CreatedAt,
			TreeHash:  cas.Hex(c.TreeHash),
			Tree:      doc,
		}
		if c.ParentID != nil {
			rec.Parent = digests[*c.ParentID]
		}
		if a, err := c.Author(ctx); err != nil {
			return 0, err
		} else if a != nil {
			rec.Author = a.Name
		}
		content, err := json.Marshal(rec)
		if err != nil {
			return 0, fmt.Errorf("encoding commit %d: %w", c.ID, err)
		}
		objects = append(objects, NewObject(KindCommit, content))
	}

	if err := Build(w, t.UID, objects); err != nil {
		return 0, err
	}
	return len(objects), nil
}

// ReadHistory reads a history pack back into commit records, oldest first.
func ReadHistory(r io.Reader) (string, []CommitRecord, error) {
	header, objects, err := Read(r)
	if err != nil {
		return "", nil, err
	}
	var out []CommitRecord
	for _, obj := range objects {
		if obj.Kind != KindCommit {
			continue
		}
		var rec CommitRecord
		if err := json.Unmarshal(obj.Content, &rec); err != nil {
			return "", nil, fmt.Errorf("decoding commit record: %w", err)
		}
		out = append(out, rec)
	}
	return header.Label, out, nil
}
