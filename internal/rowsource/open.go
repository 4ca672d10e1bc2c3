package rowsource

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// downloader retrieves a remote file to a local path.
type downloader interface {
	DownloadToFile(ctx context.Context, url, path string) (int64, error)
}

// Open resolves a source argument into a row stream. Remote URLs are
// downloaded to a temporary file first. The returned cleanup releases
// whatever Open acquired and must be called after the stream is drained.
func Open(ctx context.Context, source string, opts Options, fetch FetchOptions) (Source, func(), error) {
	local := source
	cleanup := func() {}

	if u, err := url.Parse(source); err == nil && isRemoteScheme(u.Scheme) {
		var d downloader
		if u.Scheme == "ftp" {
			d = NewFTPFetcher(fetch.Timeout)
		} else {
			d = NewHTTPFetcher(fetch)
		}

		tmp, err := os.CreateTemp("", "import-*"+strings.ToLower(filepath.Ext(u.Path)))
		if err != nil {
			return nil, nil, eris.Wrap(err, "rowsource: create temp file")
		}
		_ = tmp.Close()

		if _, err := d.DownloadToFile(ctx, source, tmp.Name()); err != nil {
			_ = os.Remove(tmp.Name())
			return nil, nil, err
		}
		local = tmp.Name()
		cleanup = func() { _ = os.Remove(tmp.Name()) }
	}

	switch ext := strings.ToLower(filepath.Ext(local)); ext {
	case ".xlsx":
		return NewXLSX(local, opts), cleanup, nil
	case ".csv", ".txt", ".tsv":
		f, err := os.Open(local)
		if err != nil {
			cleanup()
			return nil, nil, eris.Wrap(err, "rowsource: open file")
		}
		if ext == ".tsv" && opts.Delimiter == 0 {
			opts.Delimiter = '\t'
		}
		prev := cleanup
		return NewCSV(f, opts), func() { _ = f.Close(); prev() }, nil
	default:
		cleanup()
		return nil, nil, eris.Errorf("rowsource: unsupported file type %q", ext)
	}
}

func isRemoteScheme(scheme string) bool {
	switch scheme {
	case "http", "https", "ftp":
		return true
	}
	return false
}
