package grading

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	_ "image/jpeg"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/JaimeStill/marker/internal/jobs"
)

// Upload is one submitted file.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

func (u Upload) isPDF() bool {
	return u.ContentType == "application/pdf" || bytes.HasPrefix(u.Data, []byte("%PDF-"))
}

// Submit stores the uploaded pages, creates a queued job, and enqueues it
// for grading. Images are normalized to PNG; a PDF is stored as-is and
// rendered by the worker.
func (s *Service) Submit(ctx context.Context, uploads []Upload) (*jobs.Job, error) {
	if len(uploads) == 0 {
		return nil, ErrNoPages
	}

	id := uuid.New()
	cmd, err := s.storeSource(ctx, id, uploads)
	if err != nil {
		return nil, err
	}

	job, err := s.jobs.Create(ctx, cmd)
	if err != nil {
		return nil, err
	}

	if err := s.queue.Push(ctx, Request{JobID: id}); err != nil {
		if serr := s.jobs.SetStatus(ctx, id, jobs.StatusFailed, "job could not be queued"); serr != nil {
			s.logger.Error("failed to mark unqueued job", "job_id", id, "error", serr)
		}
		return nil, err
	}

	s.logger.Info("job submitted", "job_id", id, "source", cmd.SourceKind, "pages", cmd.TotalPages)
	return job, nil
}

func (s *Service) storeSource(ctx context.Context, id uuid.UUID, uploads []Upload) (jobs.CreateCommand, error) {
	cmd := jobs.CreateCommand{ID: id}

	for _, u := range uploads {
		if u.isPDF() && len(uploads) > 1 {
			return cmd, ErrMixedSources
		}
	}

	if uploads[0].isPDF() {
		count, err := api.PageCount(bytes.NewReader(uploads[0].Data), nil)
		if err != nil {
			return cmd, fmt.Errorf("%w: %s: %w", ErrUnreadableSource, uploads[0].Filename, err)
		}
		if count < 1 {
			return cmd, ErrNoPages
		}
		if count > s.cfg.MaxPages {
			return cmd, fmt.Errorf("%w: %d > %d", ErrTooManyPages, count, s.cfg.MaxPages)
		}

		key := jobs.SourceKey(id.String())
		if err := s.store.Upload(ctx, key, bytes.NewReader(uploads[0].Data), "application/pdf"); err != nil {
			return cmd, err
		}

		cmd.SourceKind = jobs.SourcePDF
		cmd.SourceKeys = []string{key}
		cmd.TotalPages = count
		return cmd, nil
	}

	if len(uploads) > s.cfg.MaxPages {
		return cmd, fmt.Errorf("%w: %d > %d", ErrTooManyPages, len(uploads), s.cfg.MaxPages)
	}

	pages := make([][]byte, len(uploads))
	for i, u := range uploads {
		data, err := normalizeImage(u.Data)
		if err != nil {
			return cmd, fmt.Errorf("%w: %s: %w", ErrUnreadableSource, displayName(u, i), err)
		}
		pages[i] = data
	}

	keys, err := s.uploadPages(ctx, id, pages)
	if err != nil {
		return cmd, err
	}

	cmd.SourceKind = jobs.SourceImages
	cmd.SourceKeys = keys
	cmd.TotalPages = len(keys)
	return cmd, nil
}

// normalizeImage decodes a JPEG or PNG and re-encodes it as PNG.
func normalizeImage(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func displayName(u Upload, i int) string {
	if name := strings.TrimSpace(u.Filename); name != "" {
		return name
	}
	return fmt.Sprintf("page %d", i)
}
