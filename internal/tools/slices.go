package tools

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/JaimeStill/marker/pkg/storage"
)

// SlicePrefix is the storage prefix the preprocessor writes page slices to.
// Slice file names start with their role: figure-1.png, question-2.png.
func SlicePrefix(jobID string, pageIndex int) string {
	return fmt.Sprintf("jobs/%s/pages/%d/slices/", jobID, pageIndex)
}

// StorageSlicer discovers slices by listing blob storage.
type StorageSlicer struct {
	store storage.System
}

// NewStorageSlicer creates a Slicer over store.
func NewStorageSlicer(store storage.System) *StorageSlicer {
	return &StorageSlicer{store: store}
}

// Slices lists the page's slices. Files with an unrecognized role are
// ignored; a page without slices yields an empty list.
func (s *StorageSlicer) Slices(ctx context.Context, jobID string, pageIndex int) ([]Slice, error) {
	keys, err := s.store.List(ctx, SlicePrefix(jobID, pageIndex))
	if err != nil {
		return nil, err
	}

	out := []Slice{}
	for _, key := range keys {
		name := path.Base(key)
		role, _, _ := strings.Cut(strings.TrimSuffix(name, path.Ext(name)), "-")
		switch Role(role) {
		case RoleFigure, RoleQuestion:
			out = append(out, Slice{Role: Role(role), Key: key})
		}
	}
	return out, nil
}
