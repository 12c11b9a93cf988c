// Package hierarchy answers structural questions about a user's category forest:
// inherited display attributes, children, deletion plans and the default tree.
// It works on a loaded snapshot and never touches storage.
package hierarchy

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

// Display holds the emoji and color shown for a category.
type Display struct {
	Emoji *string
	Color *string
}

// Hierarchy indexes a set of categories by ID. Parent links may point at
// categories outside the set (deleted or foreign); such links end a walk.
type Hierarchy struct {
	byID     map[uuid.UUID]*models.Category
	children map[uuid.UUID][]uuid.UUID
	order    []uuid.UUID
}

// New builds a Hierarchy. The input order is preserved by Views and Children.
func New(categories []*models.Category) *Hierarchy {
	h := &Hierarchy{
		byID:     make(map[uuid.UUID]*models.Category, len(categories)),
		children: make(map[uuid.UUID][]uuid.UUID),
		order:    make([]uuid.UUID, 0, len(categories)),
	}
	for _, c := range categories {
		if c == nil {
			continue
		}
		if _, dup := h.byID[c.ID]; dup {
			continue
		}
		h.byID[c.ID] = c
		h.order = append(h.order, c.ID)
	}
	for _, id := range h.order {
		if parent := h.byID[id].ParentCategoryID; parent != nil {
			h.children[*parent] = append(h.children[*parent], id)
		}
	}
	return h
}

// Len returns the number of indexed categories.
func (h *Hierarchy) Len() int {
	return len(h.order)
}

// Exists reports whether id is in the set.
func (h *Hierarchy) Exists(id uuid.UUID) bool {
	_, ok := h.byID[id]
	return ok
}

// Get returns the category with the given id, or nil.
func (h *Hierarchy) Get(id uuid.UUID) *models.Category {
	return h.byID[id]
}

// Children returns the direct children of id.
func (h *Hierarchy) Children(id uuid.UUID) []uuid.UUID {
	return append([]uuid.UUID(nil), h.children[id]...)
}

// ResolveDisplay returns the category's own emoji and color, filling each one
// that is empty from the nearest ancestor that has it. The walk stops at a
// root, at a parent outside the set, or when a node repeats.
func (h *Hierarchy) ResolveDisplay(id uuid.UUID) Display {
	cur, ok := h.byID[id]
	if !ok {
		return Display{}
	}

	d := Display{Emoji: nonEmpty(cur.Emoji), Color: nonEmpty(cur.Color)}
	visited := map[uuid.UUID]struct{}{id: {}}

	for (d.Emoji == nil || d.Color == nil) && cur.ParentCategoryID != nil {
		parentID := *cur.ParentCategoryID
		if _, seen := visited[parentID]; seen {
			break
		}
		visited[parentID] = struct{}{}

		parent, ok := h.byID[parentID]
		if !ok {
			break
		}
		if d.Emoji == nil {
			d.Emoji = nonEmpty(parent.Emoji)
		}
		if d.Color == nil {
			d.Color = nonEmpty(parent.Color)
		}
		cur = parent
	}
	return d
}

// Views returns every category with its resolved display attributes.
func (h *Hierarchy) Views() []*models.CategoryView {
	views := make([]*models.CategoryView, 0, len(h.order))
	for _, id := range h.order {
		d := h.ResolveDisplay(id)
		views = append(views, &models.CategoryView{
			Category:       h.byID[id],
			InheritedEmoji: d.Emoji,
			InheritedColor: d.Color,
		})
	}
	return views
}

// WouldCycle reports whether making parentID the parent of id creates a cycle.
func (h *Hierarchy) WouldCycle(id, parentID uuid.UUID) bool {
	visited := map[uuid.UUID]struct{}{}
	for cur := &parentID; cur != nil; {
		if *cur == id {
			return true
		}
		if _, seen := visited[*cur]; seen {
			return true
		}
		visited[*cur] = struct{}{}

		node, ok := h.byID[*cur]
		if !ok {
			return false
		}
		cur = node.ParentCategoryID
	}
	return false
}

// DeletionPlan computes the writes that remove id: its direct children move to
// its parent (or become roots) and events lose their link to it.
func (h *Hierarchy) DeletionPlan(id uuid.UUID) (models.CategoryDeletion, error) {
	c, ok := h.byID[id]
	if !ok {
		return models.CategoryDeletion{}, fmt.Errorf("category %s: %w", id, apperrors.ErrNotFound)
	}

	children := h.Children(id)

	// On cyclic or dangling data the former parent is not a safe target;
	// the children become roots instead.
	var newParent *uuid.UUID
	if p := c.ParentCategoryID; p != nil && *p != id && h.Exists(*p) && !slices.Contains(children, *p) {
		parentID := *p
		newParent = &parentID
	}

	return models.CategoryDeletion{
		UserID:      c.UserID,
		CategoryID:  id,
		NewParentID: newParent,
		ChildIDs:    children,
	}, nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
