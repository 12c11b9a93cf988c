package models

import (
	"time"

	"github.com/google/uuid"
)

// Category is a node in a user's category forest.
type Category struct {
	ID               uuid.UUID  `json:"id"`
	UserID           string     `json:"user_id"`
	Title            string     `json:"title"`
	ParentCategoryID *uuid.UUID `json:"parent_category_id,omitempty"`
	Emoji            *string    `json:"emoji,omitempty"`
	Color            *string    `json:"color,omitempty"`
	Description      *string    `json:"description,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

// CategoryView is a category with display attributes resolved through its ancestors.
type CategoryView struct {
	*Category
	InheritedEmoji *string `json:"inherited_emoji,omitempty"`
	InheritedColor *string `json:"inherited_color,omitempty"`
}

// CategoryDeletion is the set of writes that removes a category from the forest.
// Direct children move to NewParentID (nil promotes them to roots) and events
// pointing at CategoryID lose their category link.
type CategoryDeletion struct {
	UserID      string
	CategoryID  uuid.UUID
	NewParentID *uuid.UUID
	ChildIDs    []uuid.UUID
}
