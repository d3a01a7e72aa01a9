package stage

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// HTTPDownloader fetches and unpacks crates.io tarballs. It is the concrete
// Downloader the CLI wires in; tests substitute a fake.
//
// No library in the example corpus wraps tar.gz extraction, so this uses
// archive/tar and compress/gzip directly rather than reaching for a
// third-party archiver.
type HTTPDownloader struct {
	BaseURL string // default https://crates.io/api/v1/crates
	HTTP    *http.Client
}

func (d *HTTPDownloader) baseURL() string {
	if d.BaseURL != "" {
		return d.BaseURL
	}
	return "https://crates.io/api/v1/crates"
}

func (d *HTTPDownloader) client() *http.Client {
	if d.HTTP != nil {
		return d.HTTP
	}
	return http.DefaultClient
}

// Fetch downloads {name}-{version}.crate into a scratch file under
// os.TempDir and returns a Handle pointing at it.
func (d *HTTPDownloader) Fetch(ctx context.Context, name, version string) (Handle, error) {
	url := fmt.Sprintf("%s/%s/%s/download", d.baseURL(), name, version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Handle{}, fmt.Errorf("stage: failed to build download request for %s@%s: %w", name, version, err)
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return Handle{}, fmt.Errorf("stage: failed to download %s@%s: %w", name, version, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Handle{}, fmt.Errorf("stage: download of %s@%s returned status %s", name, version, resp.Status)
	}

	scratch, err := os.CreateTemp("", fmt.Sprintf("copter-%s-%s-*.crate", name, version))
	if err != nil {
		return Handle{}, fmt.Errorf("stage: failed to create scratch file for %s@%s: %w", name, version, err)
	}
	defer scratch.Close()
	if _, err := io.Copy(scratch, resp.Body); err != nil {
		return Handle{}, fmt.Errorf("stage: failed to write tarball for %s@%s: %w", name, version, err)
	}
	return Handle{Name: name, Version: version, LocalPath: scratch.Name()}, nil
}

// UnpackTo extracts handle's tarball into dest, stripping the crate's
// conventional "{name}-{version}/" top-level directory so dest itself
// becomes the crate root.
func (d *HTTPDownloader) UnpackTo(ctx context.Context, handle Handle, dest string) error {
	f, err := os.Open(handle.LocalPath)
	if err != nil {
		return fmt.Errorf("stage: failed to open tarball for %s@%s: %w", handle.Name, handle.Version, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("stage: failed to open gzip stream for %s@%s: %w", handle.Name, handle.Version, err)
	}
	defer gz.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("stage: failed to create destination %s: %w", dest, err)
	}

	stripPrefix := fmt.Sprintf("%s-%s/", handle.Name, handle.Version)
	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("stage: failed to read tar entry for %s@%s: %w", handle.Name, handle.Version, err)
		}
		name := strings.TrimPrefix(hdr.Name, stripPrefix)
		if name == "" || name == hdr.Name && !strings.HasPrefix(hdr.Name, stripPrefix) {
			continue
		}
		target := filepath.Join(dest, name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("stage: tar entry %q escapes destination", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
	return nil
}
