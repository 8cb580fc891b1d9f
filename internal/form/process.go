package form

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/54b3r/hmochat-go/internal/logging"
)

// Analyzer runs OCR layout analysis. *Client satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, document []byte) (*AnalyzeResult, error)
}

// FieldExtractor maps a Layout onto Fields. *Extractor satisfies it.
type FieldExtractor interface {
	Extract(ctx context.Context, layout Layout) (Fields, string, error)
}

// Result is the output of processing one form.
type Result struct {
	Fields     Fields     `json:"form_data"`
	Validation Validation `json:"validation_results"`
}

// Processor runs OCR, field extraction and validation for a form file.
type Processor struct {
	analyzer  Analyzer
	extractor FieldExtractor
	page      int
}

// NewProcessor constructs a Processor that reads page 1.
func NewProcessor(a Analyzer, e FieldExtractor) *Processor {
	return &Processor{analyzer: a, extractor: e, page: 1}
}

// ProcessFile reads path and processes its contents.
func (p *Processor) ProcessFile(ctx context.Context, path string) (*Result, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("form: reading %s: %w", path, err)
	}
	return p.Process(ctx, doc)
}

// Process analyses document and returns the validated fields.
func (p *Processor) Process(ctx context.Context, document []byte) (*Result, error) {
	log := logging.FromContext(ctx)

	analysis, err := p.analyzer.Analyze(ctx, document)
	if err != nil {
		return nil, err
	}
	layout := ExtractLayout(analysis, p.page)
	log.Debug("form: layout extracted",
		slog.Int("text_bytes", len(layout.Text)),
		slog.Int("checkbox_labels", len(layout.SelectionMarks)),
	)

	fields, raw, err := p.extractor.Extract(ctx, layout)
	if err != nil {
		log.Error("form: field extraction failed",
			slog.String("error", err.Error()),
			slog.Int("raw_bytes", len(raw)),
		)
		return nil, err
	}

	v := Validate(fields)
	if !v.OK() {
		log.Warn("form: validation issues",
			slog.Any("missing", v.MissingRequiredFields),
			slog.Any("format", v.FormatIssues),
		)
	}
	return &Result{Fields: fields, Validation: v}, nil
}
