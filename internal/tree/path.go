package tree

import (
	"fmt"
	"strings"
)

// Materialized paths are a concatenation of fixed-width base36 steps, one per
// depth level. Sorting by path yields depth-first order.
const (
	stepLen  = 4
	alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	maxStep  = 36*36*36*36 - 1
)

// tempPrefix never collides with a real path because it is outside the alphabet.
const tempPrefix = "_"

func encodeStep(n int) (string, error) {
	if n < 1 || n > maxStep {
		return "", fmt.Errorf("path step %d out of range", n)
	}
	buf := make([]byte, stepLen)
	for i := stepLen - 1; i >= 0; i-- {
		buf[i] = alphabet[n%36]
		n /= 36
	}
	return string(buf), nil
}

func decodeStep(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*36 + strings.IndexByte(alphabet, s[i])
	}
	return n
}

// lastStep returns the ordering key of a node among its siblings.
func lastStep(path string) int {
	return decodeStep(path[len(path)-stepLen:])
}

func parentPath(path string) string {
	if len(path) <= stepLen {
		return ""
	}
	return path[:len(path)-stepLen]
}

func pathDepth(path string) int {
	return len(path) / stepLen
}

// ancestorPaths lists the paths of every ancestor, root first.
func ancestorPaths(path string) []string {
	var out []string
	for l := stepLen; l < len(path); l += stepLen {
		out = append(out, path[:l])
	}
	return out
}

func childPath(parent string, step int) (string, error) {
	s, err := encodeStep(step)
	if err != nil {
		return "", err
	}
	return parent + s, nil
}

func isInSubtree(path, root string) bool {
	return strings.HasPrefix(path, root)
}

// ParentPath returns the path of the parent of the node at path, or "" for a root.
func ParentPath(path string) string {
	return parentPath(path)
}
