package domain

import "sort"

// Collection is the ordered local view over tasks, newest first. Merge
// operations never mutate the receiver; each returns a fresh slice so
// observers always read a consistent snapshot. IDs stay unique after every
// operation.
type Collection []Task

// NewCollection builds an ordered collection from a snapshot query result,
// dropping entries with duplicate IDs.
func NewCollection(tasks []Task) Collection {
	seen := make(map[string]struct{}, len(tasks))
	col := make(Collection, 0, len(tasks))
	for _, t := range tasks {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		col = append(col, t)
	}
	col.sort()
	return col
}

// Insert adds a task unless an entry with the same ID already exists. A
// duplicate insert is redundant delivery, not an error, and leaves the
// existing entry untouched.
func (c Collection) Insert(t Task) Collection {
	if c.indexOf(t.ID) >= 0 {
		return c
	}
	next := make(Collection, 0, len(c)+1)
	next = append(next, c...)
	next = append(next, t)
	next.sort()
	return next
}

// Update replaces the entry matching t.ID. When no entry matches, the record
// is materialized instead: the original insert event may never have arrived.
func (c Collection) Update(t Task) Collection {
	i := c.indexOf(t.ID)
	if i < 0 {
		return c.Insert(t)
	}
	next := make(Collection, len(c))
	copy(next, c)
	next[i] = t
	next.sort()
	return next
}

// Remove deletes the entry with the given ID. Absence is a no-op.
func (c Collection) Remove(id string) Collection {
	i := c.indexOf(id)
	if i < 0 {
		return c
	}
	next := make(Collection, 0, len(c)-1)
	next = append(next, c[:i]...)
	next = append(next, c[i+1:]...)
	return next
}

func (c Collection) indexOf(id string) int {
	for i := range c {
		if c[i].ID == id {
			return i
		}
	}
	return -1
}

// CreatedAt descending, ties broken by ID.
func (c Collection) sort() {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].CreatedAt != c[j].CreatedAt {
			return c[i].CreatedAt > c[j].CreatedAt
		}
		return c[i].ID < c[j].ID
	})
}
