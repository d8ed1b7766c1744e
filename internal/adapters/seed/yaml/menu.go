// Package yaml reads catalog seed files.
//
//	segments:
//	  spirits:
//	    - id: port-ellen-40
//	      name: Port Ellen 40
//	      category: whisky
//	      tags: [islay, closed distillery]
//	      price: 95
//	      tier: restricted
package yaml

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/bnema/venue-concierge/internal/domain"
	"github.com/bnema/venue-concierge/internal/ports"
)

type menuFile struct {
	Segments map[string][]menuItem `yaml:"segments"`
}

type menuItem struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Category    string   `yaml:"category"`
	Tags        []string `yaml:"tags"`
	Description string   `yaml:"description"`
	Price       float64  `yaml:"price"`
	Tier        string   `yaml:"tier"`
	// Available defaults to true when omitted.
	Available *bool `yaml:"available"`
}

// Menu is a parsed seed file keyed by segment.
type Menu map[domain.SegmentKey][]domain.CatalogItem

// Keys returns the segment keys in lexical order.
func (m Menu) Keys() []domain.SegmentKey {
	keys := make([]domain.SegmentKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (m Menu) ItemCount() int {
	total := 0
	for _, items := range m {
		total += len(items)
	}
	return total
}

func LoadFile(path string) (Menu, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open menu %s: %w", path, err)
	}
	defer file.Close()

	menu, err := Load(file)
	if err != nil {
		return nil, fmt.Errorf("menu %s: %w", path, err)
	}
	return menu, nil
}

// Load decodes a seed document. Unknown fields, duplicate item IDs and
// invalid items are rejected.
func Load(r io.Reader) (Menu, error) {
	decoder := yamlv3.NewDecoder(r)
	decoder.KnownFields(true)

	var file menuFile
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return Menu{}, nil
		}
		return nil, fmt.Errorf("decode: %w", err)
	}

	menu := make(Menu, len(file.Segments))
	seen := map[domain.ItemID]domain.SegmentKey{}
	for rawKey, entries := range file.Segments {
		key := domain.SegmentKey(strings.TrimSpace(rawKey))
		if key == "" {
			return nil, fmt.Errorf("segment key is required")
		}

		items := make([]domain.CatalogItem, 0, len(entries))
		for _, entry := range entries {
			item := entry.toDomain(key)
			if err := item.Validate(); err != nil {
				return nil, fmt.Errorf("segment %s: %w", key, err)
			}
			if other, ok := seen[item.ID]; ok {
				return nil, fmt.Errorf("item %s appears in both %s and %s", item.ID, other, key)
			}
			seen[item.ID] = key
			items = append(items, item)
		}
		menu[key] = items
	}
	return menu, nil
}

// Apply replaces every segment named by menu. Segments absent from the
// menu are left alone.
func Apply(ctx context.Context, repo ports.CatalogRepository, menu Menu) error {
	for _, key := range menu.Keys() {
		if err := repo.ReplaceSegment(ctx, key, menu[key]); err != nil {
			return fmt.Errorf("replace segment %s: %w", key, err)
		}
	}
	return nil
}

func (m menuItem) toDomain(segment domain.SegmentKey) domain.CatalogItem {
	tier := domain.Tier(strings.ToLower(strings.TrimSpace(m.Tier)))
	if tier == "" {
		tier = domain.TierStandard
	}
	available := true
	if m.Available != nil {
		available = *m.Available
	}

	return domain.CatalogItem{
		ID:          domain.ItemID(strings.TrimSpace(m.ID)),
		Segment:     segment,
		Name:        strings.TrimSpace(m.Name),
		Category:    strings.TrimSpace(m.Category),
		Tags:        append([]string(nil), m.Tags...),
		Description: strings.TrimSpace(m.Description),
		Price:       m.Price,
		Tier:        tier,
		Available:   available,
	}
}
