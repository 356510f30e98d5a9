package grading

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/JaimeStill/document-context/pkg/config"
	"github.com/JaimeStill/document-context/pkg/document"
	"github.com/JaimeStill/document-context/pkg/image"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/marker/internal/jobs"
	"github.com/JaimeStill/marker/pkg/storage"
)

// PDFRenderer renders PDF pages to PNG with ImageMagick.
type PDFRenderer struct {
	image config.ImageConfig
}

// NewPDFRenderer creates a renderer with the default image settings.
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{image: config.DefaultImageConfig()}
}

// Render writes pdf to a temporary directory and renders every page
// concurrently, bounded by the number of CPUs.
func (r *PDFRenderer) Render(ctx context.Context, pdf []byte) ([][]byte, error) {
	dir, err := os.MkdirTemp("", "marker-render-*")
	if err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "source.pdf")
	if err := os.WriteFile(path, pdf, 0600); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}

	doc, err := document.OpenPDF(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	renderer, err := image.NewImageMagickRenderer(r.image)
	if err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}

	pages, err := doc.ExtractAllPages()
	if err != nil {
		return nil, fmt.Errorf("extract pages: %w", err)
	}

	out := make([][]byte, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(min(runtime.NumCPU(), len(pages)), 1))

	for i, page := range pages {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			data, err := page.ToImage(renderer, nil)
			if err != nil {
				return fmt.Errorf("render page %d: %w", i, err)
			}
			out[i] = data
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) uploadPages(ctx context.Context, id uuid.UUID, pages [][]byte) ([]string, error) {
	keys := make([]string, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, data := range pages {
		keys[i] = jobs.PageKey(id.String(), i)
		g.Go(func() error {
			return s.store.Upload(gctx, keys[i], bytes.NewReader(data), "image/png")
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("upload pages: %w", err)
	}
	return keys, nil
}

// ensurePages renders a PDF job's pages into storage unless a previous run
// already did.
func (s *Service) ensurePages(ctx context.Context, job *jobs.Job) error {
	if job.SourceKind != jobs.SourcePDF || job.TotalPages == 0 {
		return nil
	}

	last := jobs.PageKey(job.ID.String(), job.TotalPages-1)
	if ok, err := s.store.Exists(ctx, last); err != nil {
		return err
	} else if ok {
		return nil
	}

	data, err := storage.ReadAll(ctx, s.store, jobs.SourceKey(job.ID.String()))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreadableSource, err)
	}

	pages, err := s.renderer.Render(ctx, data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreadableSource, err)
	}
	if len(pages) != job.TotalPages {
		return fmt.Errorf("%w: rendered %d pages, expected %d", ErrUnreadableSource, len(pages), job.TotalPages)
	}

	if _, err := s.uploadPages(ctx, job.ID, pages); err != nil {
		return err
	}
	s.logger.Info("pdf rendered", "job_id", job.ID, "pages", len(pages))
	return nil
}
