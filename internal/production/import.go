package production

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/thatjpcsguy/printtrack/internal/domain"
	"github.com/thatjpcsguy/printtrack/internal/filename"
	"github.com/thatjpcsguy/printtrack/internal/tracing"
)

// File is one model file to import.
type File struct {
	Name string
	Data []byte
}

// ImportResult is the outcome of importing one file.
type ImportResult struct {
	File         string
	Parsed       filename.Parsed
	Registration *Registration
	Err          error
}

// OK reports whether the file was registered.
func (r ImportResult) OK() bool {
	return r.Err == nil && r.Registration != nil
}

// ImportFile registers the units a model file name asks for. A name that does
// not parse fails with domain.ErrValidation before anything is uploaded.
func (s *Service) ImportFile(ctx context.Context, name string, data []byte, project domain.ProjectID, stage domain.Stage) (Registration, error) {
	ctx, span := tracing.Start(ctx, s.Tracer, tracing.SpanImportFile, attribute.String(tracing.AttrFileName, name))

	parsed, err := filename.Parse(name)
	if err != nil {
		err = domain.NewError("import", name, err)
		tracing.End(span, err)
		return Registration{}, err
	}

	reg, err := s.RegisterPrinted(ctx, data, parsed.PartNumber, project, parsed.Quantity, stage)
	tracing.End(span, err)
	return reg, err
}

// ImportMany imports files one after another. Each file stands alone: a failure
// is recorded in its result and the remaining files are still imported.
func (s *Service) ImportMany(ctx context.Context, files []File, project domain.ProjectID, stage domain.Stage) []ImportResult {
	ctx, span := tracing.Start(ctx, s.Tracer, tracing.SpanImport, attribute.Int(tracing.AttrQuantity, len(files)))
	defer span.End()

	results := make([]ImportResult, 0, len(files))
	failed := 0
	for _, f := range files {
		res := ImportResult{File: f.Name}
		res.Parsed, _ = filename.Parse(f.Name)

		reg, err := s.ImportFile(ctx, f.Name, f.Data, project, stage)
		if err != nil {
			failed++
			res.Err = err
			s.Logger.Warn("failed to import file", zap.String("file", f.Name), zap.Error(err))
		} else {
			res.Registration = &reg
		}
		results = append(results, res)
	}

	span.SetAttributes(attribute.Int("import.failed", failed))
	s.Logger.Info("import finished",
		zap.Int("files", len(files)),
		zap.Int("failed", failed),
	)
	return results
}

// PreviewEntry describes what importing one file would do.
type PreviewEntry struct {
	Parsed  filename.Parsed
	Err     error
	Storage []string
}

// Short reports whether fewer storage slots are free than the file needs.
func (e PreviewEntry) Short() bool {
	return e.Err == nil && len(e.Storage) < e.Parsed.Quantity
}

// PreviewImport parses names and shows the storage each valid file would get if
// the files were imported in order. Nothing is written.
func (s *Service) PreviewImport(ctx context.Context, names []string) ([]PreviewEntry, error) {
	entries := make([]PreviewEntry, len(names))
	var (
		quantities []int
		valid      []int
	)
	for i, name := range names {
		parsed, err := filename.Parse(name)
		entries[i] = PreviewEntry{Parsed: parsed, Err: err}
		if err == nil {
			quantities = append(quantities, parsed.Quantity)
			valid = append(valid, i)
		}
	}
	if len(quantities) == 0 {
		return entries, nil
	}

	var storage [][]string
	if s.Mode == ModeLabel {
		labels, err := s.Labeler.Preview(ctx, quantities)
		if err != nil {
			return nil, err
		}
		storage = labels
	} else {
		boxes, err := s.Allocator.Preview(ctx, quantities)
		if err != nil {
			return nil, err
		}
		storage = make([][]string, len(boxes))
		for i, ids := range boxes {
			storage[i] = make([]string, len(ids))
			for j, id := range ids {
				storage[i][j] = string(id)
			}
		}
	}

	for k, i := range valid {
		entries[i].Storage = storage[k]
	}
	return entries, nil
}
