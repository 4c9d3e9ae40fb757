package gdrive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/sjawhar/ghost-dictate/internal/logging"
)

const googleDocMimeType = "application/vnd.google-apps.document"

// Exporter uploads markdown transcripts to a Drive folder as Google Docs.
// A name seen before updates the same document instead of creating a new one.
type Exporter struct {
	service  *drive.Service
	folderID string
	logger   *slog.Logger

	mu      sync.Mutex
	fileIDs map[string]string
}

func NewExporter(ctx context.Context, credPath, folderID string, logger *slog.Logger) (*Exporter, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return NewExporterWithService(svc, folderID, logger), nil
}

func NewExporterWithService(svc *drive.Service, folderID string, logger *slog.Logger) *Exporter {
	return &Exporter{
		service:  svc,
		folderID: folderID,
		logger:   logging.NewComponentLogger(logger, "gdrive"),
		fileIDs:  make(map[string]string),
	}
}

// Export uploads localPath under name and returns the Drive file ID.
func (e *Exporter) Export(ctx context.Context, localPath, name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	if fileID, ok := e.fileIDs[name]; ok {
		if _, err := e.service.Files.Update(fileID, &drive.File{}).Media(f).Context(ctx).Do(); err != nil {
			return "", fmt.Errorf("drive update %s: %w", name, err)
		}
		e.logger.Info("drive_export_updated", slog.String("name", name), slog.String("file_id", fileID))
		return fileID, nil
	}

	file := &drive.File{Name: name, MimeType: googleDocMimeType}
	if e.folderID != "" {
		file.Parents = []string{e.folderID}
	}
	doc, err := e.service.Files.Create(file).Media(f).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive create %s: %w", name, err)
	}

	e.fileIDs[name] = doc.Id
	e.logger.Info("drive_export_created", slog.String("name", name), slog.String("file_id", doc.Id))
	return doc.Id, nil
}
