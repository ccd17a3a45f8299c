package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cavaliergopher/grab/v3"

	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/model"
)

// FileSource serves a catalog document from the local filesystem.
type FileSource struct {
	path   string
	group  string
	format Format
	log    logging.Logger
}

// NewFileSource reads the document at path on every Fetch.
func NewFileSource(path, group string, format Format, log logging.Logger) *FileSource {
	if group == "" {
		group = "file"
	}
	return &FileSource{path: path, group: group, format: format, log: logging.OrNoop(log)}
}

// Group returns the configured group name.
func (f *FileSource) Group() string { return f.group }

// Fetch reads and parses the file.
func (f *FileSource) Fetch(ctx context.Context) (*model.Catalog, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	sets, skipped, err := Parse(ctx, data, f.format, f.log)
	if err != nil {
		return nil, err
	}
	fetchedAt := time.Now().UTC()
	if st, err := os.Stat(f.path); err == nil {
		fetchedAt = st.ModTime().UTC()
	}
	return &model.Catalog{
		Group:     f.group,
		Source:    f.path,
		FetchedAt: fetchedAt,
		Sets:      sets,
		Skipped:   skipped,
	}, nil
}

// DownloadFileName returns the file name Download uses for a group.
func DownloadFileName(group string, format Format) string {
	ext := "txt"
	if format == FormatJSON {
		ext = "json"
	}
	return group + "." + ext
}

// Download saves the catalog document at url into dir and returns the
// written path. Existing files are replaced.
func Download(ctx context.Context, url, dir, group string, format Format, userAgent string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	if group == "" {
		group = GroupFromURL(url)
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	client := grab.NewClient()
	client.UserAgent = userAgent

	dst := filepath.Join(dir, DownloadFileName(group, format))
	req, err := grab.NewRequest(dst, url)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	req = req.WithContext(ctx)
	req.NoResume = true

	resp := client.Do(req)
	if err := resp.Err(); err != nil {
		return "", fmt.Errorf("%w: download %s: %v", ErrSourceUnavailable, url, err)
	}
	return resp.Filename, nil
}
