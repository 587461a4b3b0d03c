// Package dirtree holds the remote directory hierarchy of one account as
// discovered by a single traversal. A Tree is immutable once built; a new one
// is produced every sync cycle and by Merge.
package dirtree

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrNotFound is returned when a name does not resolve to any directory.
var ErrNotFound = errors.New("dirtree: directory not found")

// LookupMode selects how a directory name is resolved.
type LookupMode int

const (
	// LookupGlobal returns the first directory with the name anywhere in the
	// tree, in discovery order.
	LookupGlobal LookupMode = iota
	// LookupParent only considers direct children of a given parent.
	LookupParent
)

// String returns the config spelling of the mode.
func (m LookupMode) String() string {
	switch m {
	case LookupGlobal:
		return "global"
	case LookupParent:
		return "parent"
	default:
		return "unknown"
	}
}

// ParseLookupMode parses "global" or "parent".
func ParseLookupMode(s string) (LookupMode, error) {
	switch s {
	case "global", "":
		return LookupGlobal, nil
	case "parent":
		return LookupParent, nil
	default:
		return LookupGlobal, fmt.Errorf("dirtree: unknown lookup mode %q", s)
	}
}

// Directory is one remote directory.
type Directory struct {
	ID       string
	Name     string
	ParentID string
}

// Tree maps directory ids to their metadata. The root itself is not stored;
// every Directory's ParentID is either the root id or another entry.
type Tree struct {
	rootID string
	dirs   map[string]Directory
	order  []string // pre-order discovery
}

func newTree(rootID string) *Tree {
	return &Tree{rootID: rootID, dirs: make(map[string]Directory)}
}

// add records d unless its id is already known. Reports whether it was added.
func (t *Tree) add(d Directory) bool {
	if _, ok := t.dirs[d.ID]; ok || d.ID == t.rootID {
		return false
	}

	t.dirs[d.ID] = d
	t.order = append(t.order, d.ID)

	return true
}

// RootID returns the id the traversal started from.
func (t *Tree) RootID() string {
	return t.rootID
}

// Len returns the number of directories below the root.
func (t *Tree) Len() int {
	return len(t.order)
}

// Get returns the directory with the given id.
func (t *Tree) Get(id string) (Directory, bool) {
	d, ok := t.dirs[id]
	return d, ok
}

// Directories returns every directory in discovery order.
func (t *Tree) Directories() []Directory {
	out := make([]Directory, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.dirs[id])
	}

	return out
}

// ResolveIDByName returns the first directory named name in discovery order.
func (t *Tree) ResolveIDByName(name string) (string, bool) {
	for _, id := range t.order {
		if t.dirs[id].Name == name {
			return id, true
		}
	}

	return "", false
}

// ResolveChildByName returns the first direct child of parentID named name.
func (t *Tree) ResolveChildByName(parentID, name string) (string, bool) {
	for _, id := range t.order {
		d := t.dirs[id]
		if d.ParentID == parentID && d.Name == name {
			return id, true
		}
	}

	return "", false
}

// Resolve looks name up with the given mode. parentID is ignored for
// LookupGlobal.
func (t *Tree) Resolve(mode LookupMode, parentID, name string) (string, error) {
	var (
		id string
		ok bool
	)

	if mode == LookupParent {
		id, ok = t.ResolveChildByName(parentID, name)
	} else {
		id, ok = t.ResolveIDByName(name)
	}

	if !ok {
		return "", ErrNotFound
	}

	return id, nil
}

// Merge returns a new tree in which everything below sub's root is replaced
// by sub's entries. sub's root must be the receiver's root or one of its
// directories; otherwise the receiver is returned unchanged.
func (t *Tree) Merge(sub *Tree) *Tree {
	anchor := sub.rootID
	if _, ok := t.dirs[anchor]; !ok && anchor != t.rootID {
		return t
	}

	out := newTree(t.rootID)
	inserted := false

	for _, id := range t.order {
		if t.isBelow(id, anchor) {
			continue
		}

		out.add(t.dirs[id])

		if id == anchor {
			out.addAll(sub)
			inserted = true
		}
	}

	if !inserted {
		out.addAll(sub)
	}

	return out
}

func (t *Tree) addAll(sub *Tree) {
	for _, id := range sub.order {
		t.add(sub.dirs[id])
	}
}

// isBelow reports whether id is a strict descendant of ancestor.
func (t *Tree) isBelow(id, ancestor string) bool {
	seen := make(map[string]bool)

	for cur := t.dirs[id].ParentID; ; {
		if cur == ancestor {
			return true
		}

		d, ok := t.dirs[cur]
		if !ok || seen[cur] {
			return false
		}

		seen[cur] = true
		cur = d.ParentID
	}
}

// Path renders id as a slash-separated path from the root, e.g. "/a/b".
func (t *Tree) Path(id string) string {
	if id == t.rootID {
		return "/"
	}

	var parts []string

	seen := make(map[string]bool)

	for cur := id; cur != t.rootID && !seen[cur]; {
		d, ok := t.dirs[cur]
		if !ok {
			break
		}

		seen[cur] = true
		parts = append(parts, d.Name)
		cur = d.ParentID
	}

	slices.Reverse(parts)

	return "/" + strings.Join(parts, "/")
}
