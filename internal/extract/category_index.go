package extract

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/vietddude/catalog-etl/internal/core/domain"
)

// ErrMalformedCategory is returned when a category element has no usable id.
var ErrMalformedCategory = errors.New("malformed category")

// CategoryIndex is a parent-pointer index over the category forest of one run.
// It is immutable once built.
type CategoryIndex struct {
	categories map[int64]domain.Category
	log        *slog.Logger
}

type categoryElement struct {
	ID       string `xml:"id,attr"`
	ParentID string `xml:"parentId,attr"`
	Name     string `xml:",chardata"`
}

// BuildCategoryIndex scans the first containerTag element of r and indexes
// every itemTag element found inside it. Other elements inside the container
// are ignored. Reading stops as soon as the container closes.
func BuildCategoryIndex(r io.Reader, containerTag, itemTag string) (*CategoryIndex, error) {
	idx := &CategoryIndex{
		categories: make(map[int64]domain.Category),
		log:        slog.Default().With("component", "category-index"),
	}

	dec := newDecoder(r)
	inContainer := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return idx, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read categories: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if !inContainer {
				inContainer = t.Name.Local == containerTag
				continue
			}
			if t.Name.Local != itemTag {
				continue
			}
			var el categoryElement
			if err := dec.DecodeElement(&el, &t); err != nil {
				return nil, fmt.Errorf("failed to decode category: %w", err)
			}
			cat, err := el.toCategory()
			if err != nil {
				return nil, err
			}
			idx.categories[cat.ID] = cat
		case xml.EndElement:
			if inContainer && t.Name.Local == containerTag {
				return idx, nil
			}
		}
	}
}

func (el *categoryElement) toCategory() (domain.Category, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(el.ID), 10, 64)
	if err != nil {
		return domain.Category{}, fmt.Errorf("%w: id %q: %v", ErrMalformedCategory, el.ID, err)
	}
	cat := domain.Category{ID: id, Name: strings.TrimSpace(el.Name)}

	if parent := strings.TrimSpace(el.ParentID); parent != "" {
		pid, err := strconv.ParseInt(parent, 10, 64)
		if err != nil {
			return domain.Category{}, fmt.Errorf("%w: category %d parentId %q: %v", ErrMalformedCategory, id, el.ParentID, err)
		}
		cat.ParentID = &pid
	}
	return cat, nil
}

// Len returns the number of indexed categories.
func (idx *CategoryIndex) Len() int {
	return len(idx.categories)
}

// Get returns the category with the given id.
func (idx *CategoryIndex) Get(id int64) (domain.Category, bool) {
	cat, ok := idx.categories[id]
	return cat, ok
}

// ResolvePath returns category names from the root down to id.
// An unknown id resolves to an empty path. The walk stops at a missing parent,
// and at the first repeated id when the parent chain loops back on itself.
func (idx *CategoryIndex) ResolvePath(id int64) []string {
	var names []string
	visited := make(map[int64]struct{})

	cur, ok := idx.Get(id)
	for ok {
		if _, seen := visited[cur.ID]; seen {
			idx.log.Debug("Category parent chain loops, truncating path",
				"category_id", id,
				"repeated_id", cur.ID,
			)
			break
		}
		visited[cur.ID] = struct{}{}
		names = append(names, cur.Name)

		if cur.IsRoot() {
			break
		}
		cur, ok = idx.Get(*cur.ParentID)
	}

	slices.Reverse(names)
	return names
}
