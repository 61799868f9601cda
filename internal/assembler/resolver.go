package assembler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"finreport/internal/apperr"
	"finreport/internal/filestore"
	"finreport/internal/models"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
)

// FileLocator is the part of the file store the resolver needs.
type FileLocator interface {
	LocalPath(fileID, filename string) (string, *models.StoredFile, error)
}

// Resolver turns uploaded file references into document text.
type Resolver struct {
	files  FileLocator
	loader document.Loader
}

func NewResolver(ctx context.Context, files FileLocator) (*Resolver, error) {
	p, err := NewDocumentParser(ctx)
	if err != nil {
		return nil, fmt.Errorf("init document parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      p,
	})
	if err != nil {
		return nil, fmt.Errorf("init file loader: %w", err)
	}
	return &Resolver{files: files, loader: loader}, nil
}

// CoreDocuments picks the documents to place in the prompt: the explicit core
// selection when present, otherwise every uploaded file.
func (r *Resolver) CoreDocuments(ctx context.Context, c *models.ChatContext) ([]models.Document, error) {
	names := make(map[string]string, len(c.UploadedFiles))
	for _, f := range c.UploadedFiles {
		names[f.FileID] = f.Filename
	}
	var refs []models.FileRef
	if len(c.SelectedCoreDocuments) > 0 {
		for _, id := range c.SelectedCoreDocuments {
			refs = append(refs, models.FileRef{FileID: id, Filename: names[id]})
		}
	} else {
		refs = c.UploadedFiles
	}
	return r.Resolve(ctx, refs)
}

// Resolve loads each referenced upload. An unknown id is a NOT_FOUND error.
func (r *Resolver) Resolve(ctx context.Context, refs []models.FileRef) ([]models.Document, error) {
	docs := make([]models.Document, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if _, dup := seen[ref.FileID]; dup {
			continue
		}
		seen[ref.FileID] = struct{}{}

		path, meta, err := r.files.LocalPath(ref.FileID, ref.Filename)
		if err != nil {
			if errors.Is(err, filestore.ErrNotFound) {
				return nil, apperr.Newf(apperr.KindNotFound, "file %s not found", ref.FileID)
			}
			return nil, fmt.Errorf("locate file %s: %w", ref.FileID, err)
		}
		loaded, err := r.loader.Load(ctx, document.Source{URI: path})
		if err != nil {
			return nil, apperr.Wrap(apperr.KindBadRequest, fmt.Sprintf("file %s could not be read", meta.Filename), err)
		}
		var sb strings.Builder
		for _, d := range loaded {
			if content := strings.TrimSpace(d.Content); content != "" {
				sb.WriteString(content)
				sb.WriteString("\n\n")
			}
		}
		docs = append(docs, models.Document{
			FileID:   meta.FileID,
			Filename: meta.Filename,
			Content:  strings.TrimSpace(sb.String()),
		})
	}
	return docs, nil
}
