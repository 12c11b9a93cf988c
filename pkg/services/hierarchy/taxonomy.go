package hierarchy

import (
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

//go:embed taxonomy.yaml
var taxonomyYAML []byte

// Node is one entry of the default taxonomy.
type Node struct {
	Title       string `yaml:"title"`
	Emoji       string `yaml:"emoji,omitempty"`
	Color       string `yaml:"color,omitempty"`
	Description string `yaml:"description,omitempty"`
	Children    []Node `yaml:"children,omitempty"`
}

var (
	taxonomyOnce sync.Once
	taxonomy     []Node
	taxonomyErr  error
)

// DefaultTaxonomy returns the roots of the default category tree.
func DefaultTaxonomy() ([]Node, error) {
	taxonomyOnce.Do(func() {
		taxonomy, taxonomyErr = ParseTaxonomy(taxonomyYAML)
	})
	return taxonomy, taxonomyErr
}

// ParseTaxonomy decodes a YAML list of nodes. Every node needs a title.
func ParseTaxonomy(data []byte) ([]Node, error) {
	var roots []Node
	if err := yaml.Unmarshal(data, &roots); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy: %w", err)
	}
	if err := validateNodes(roots, ""); err != nil {
		return nil, err
	}
	return roots, nil
}

func validateNodes(nodes []Node, path string) error {
	for i, n := range nodes {
		if n.Title == "" {
			return fmt.Errorf("taxonomy node %s[%d] has no title", path, i)
		}
		if err := validateNodes(n.Children, path+"/"+n.Title); err != nil {
			return err
		}
	}
	return nil
}

// SeedOrder flattens roots breadth-first into categories for userID, so every
// parent precedes its children. newID supplies the category IDs; nil means uuid.New.
func SeedOrder(roots []Node, userID string, now time.Time, newID func() uuid.UUID) []*models.Category {
	if newID == nil {
		newID = uuid.New
	}

	type item struct {
		node     Node
		parentID *uuid.UUID
	}

	queue := make([]item, 0, len(roots))
	for _, r := range roots {
		queue = append(queue, item{node: r})
	}

	var out []*models.Category
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]

		id := newID()
		out = append(out, &models.Category{
			ID:               id,
			UserID:           userID,
			Title:            it.node.Title,
			ParentCategoryID: it.parentID,
			Emoji:            optional(it.node.Emoji),
			Color:            optional(it.node.Color),
			Description:      optional(it.node.Description),
			CreatedAt:        now,
			UpdatedAt:        now,
		})

		for _, child := range it.node.Children {
			queue = append(queue, item{node: child, parentID: &id})
		}
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
