package extract

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vietddude/catalog-etl/internal/core/domain"
)

// DefaultPathSeparator joins category levels deeper than the third.
const DefaultPathSeparator = "/"

// Config controls element names and batch sizing.
type Config struct {
	ProductTag           string
	CategoryContainerTag string
	CategoryTag          string
	ChunkSize            int
	PathSeparator        string
}

// Extractor produces a fresh batch cursor over its source for every run.
type Extractor struct {
	cfg    Config
	source Source
	newID  func() uuid.UUID
	log    *slog.Logger
}

// NewExtractor creates an extractor reading from source.
func NewExtractor(source Source, cfg Config) *Extractor {
	if cfg.PathSeparator == "" {
		cfg.PathSeparator = DefaultPathSeparator
	}
	return &Extractor{
		cfg:    cfg,
		source: source,
		newID:  uuid.New,
		log:    slog.Default().With("component", "extractor"),
	}
}

// BuildIndex runs the category pass over a freshly opened source.
func (e *Extractor) BuildIndex(ctx context.Context) (*CategoryIndex, error) {
	rc, err := e.source.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	idx, err := BuildCategoryIndex(rc, e.cfg.CategoryContainerTag, e.cfg.CategoryTag)
	if err != nil {
		return nil, fmt.Errorf("failed to build category index from %s: %w", e.source.Name(), err)
	}
	e.log.Debug("Category index built", "source", e.source.Name(), "categories", idx.Len())
	return idx, nil
}

// Open builds the category index and returns a cursor over product batches.
func (e *Extractor) Open(ctx context.Context) (*Cursor, error) {
	idx, err := e.BuildIndex(ctx)
	if err != nil {
		return nil, err
	}
	return e.Extract(ctx, idx)
}

// Extract opens a product pass over the source using an existing index.
func (e *Extractor) Extract(ctx context.Context, idx *CategoryIndex) (*Cursor, error) {
	if e.cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", e.cfg.ChunkSize)
	}
	rc, err := e.source.Open(ctx)
	if err != nil {
		return nil, err
	}
	return &Cursor{
		rc:        rc,
		dec:       newDecoder(rc),
		tag:       e.cfg.ProductTag,
		chunkSize: e.cfg.ChunkSize,
		index:     idx,
		builder: productBuilder{
			index:     idx,
			separator: e.cfg.PathSeparator,
			newID:     e.newID,
		},
	}, nil
}

// Cursor is a forward-only iterator over product batches.
// It is exhausted once and cannot be rewound; open a new one to start over.
type Cursor struct {
	rc        io.ReadCloser
	dec       *xml.Decoder
	tag       string
	chunkSize int
	index     *CategoryIndex
	builder   productBuilder
	ordinal   int
	done      bool
}

// Index returns the category index the cursor resolves against.
func (c *Cursor) Index() *CategoryIndex {
	return c.index
}

// Next returns the next batch of at most chunk size products.
// Every batch but the last is full. It returns io.EOF once the source is
// exhausted; any element error ends the cursor.
func (c *Cursor) Next(ctx context.Context) (domain.Batch, error) {
	if c.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		c.done = true
		return nil, err
	}

	batch := make(domain.Batch, 0, c.chunkSize)
	for len(batch) < c.chunkSize {
		p, err := c.nextProduct()
		if errors.Is(err, io.EOF) {
			c.done = true
			break
		}
		if err != nil {
			c.done = true
			return nil, err
		}
		batch = append(batch, p)
	}

	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

func (c *Cursor) nextProduct() (*domain.Product, error) {
	for {
		tok, err := c.dec.Token()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read products: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != c.tag {
			continue
		}

		c.ordinal++
		var el offerElement
		if err := c.dec.DecodeElement(&el, &start); err != nil {
			return nil, fmt.Errorf("failed to decode product element #%d: %w", c.ordinal, err)
		}
		return c.builder.build(c.ordinal, &el)
	}
}

// Close releases the underlying reader. It is safe to call more than once.
func (c *Cursor) Close() error {
	c.done = true
	if c.rc == nil {
		return nil
	}
	err := c.rc.Close()
	c.rc = nil
	return err
}
