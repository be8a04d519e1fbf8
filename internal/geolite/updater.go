package geolite

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

const (
	maxMindDownloadURL = "https://download.maxmind.com/app/geoip_download"
	countryEdition     = "GeoLite2-Country"
	countryFileName    = "GeoLite2-Country.mmdb"
	userAgent          = "warden-geolite-updater/1.0"
)

// ErrNoLicenseKey indicates that no MaxMind license key has been configured.
var ErrNoLicenseKey = errors.New("geolite: license key is not configured")

type Updater struct {
	licenseKey  string
	downloadURL string
	client      *http.Client
	group       singleflight.Group
}

func NewUpdater(licenseKey string) *Updater {
	return &Updater{
		licenseKey:  strings.TrimSpace(licenseKey),
		downloadURL: maxMindDownloadURL,
		client:      &http.Client{Timeout: 2 * time.Minute},
	}
}

// EnsureDatabase downloads the country database to destPath unless a file is
// already there. It reports whether a download happened.
func (u *Updater) EnsureDatabase(ctx context.Context, destPath string) (bool, error) {
	if _, err := os.Stat(destPath); err == nil {
		return false, nil
	}
	if err := u.Download(ctx, destPath); err != nil {
		return false, err
	}
	return true, nil
}

// Download fetches the latest country database into destPath. Concurrent
// calls share one download.
func (u *Updater) Download(ctx context.Context, destPath string) error {
	if u.licenseKey == "" {
		return ErrNoLicenseKey
	}
	_, err, _ := u.group.Do(destPath, func() (interface{}, error) {
		if err := u.downloadEdition(ctx, destPath); err != nil {
			return nil, err
		}
		log.Info("GeoLite database downloaded", "edition", countryEdition, "path", destPath)
		return nil, nil
	})
	return err
}

func (u *Updater) downloadEdition(ctx context.Context, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.buildDownloadURL(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", countryEdition, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("download %s: unexpected status %d: %s", countryEdition, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	gzipReader, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: open gzip: %w", countryEdition, err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: read tar: %w", countryEdition, err)
		}
		if header.Typeflag != tar.TypeReg || filepath.Base(header.Name) != countryFileName {
			continue
		}
		if err := writeToFile(destPath, tarReader); err != nil {
			return fmt.Errorf("%s: write file: %w", countryEdition, err)
		}
		return nil
	}

	return fmt.Errorf("%s: mmdb file not found in archive", countryEdition)
}

func writeToFile(destPath string, data io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), "geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmpFile.Name())
	}()

	if _, err := io.Copy(tmpFile, data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("copy data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), destPath); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}

func (u *Updater) buildDownloadURL() string {
	q := url.Values{}
	q.Set("edition_id", countryEdition)
	q.Set("license_key", u.licenseKey)
	q.Set("suffix", "tar.gz")
	return u.downloadURL + "?" + q.Encode()
}
