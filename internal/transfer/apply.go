package transfer

import (
	"github.com/rileyhilliard/forkterm/internal/logger"
)

// Uploader copies a local file into the isolated environment.
type Uploader interface {
	Upload(localPath, remotePath string) error
}

// Downloader copies a file out of the isolated environment.
type Downloader interface {
	Download(remotePath, localPath string) error
}

// Upload copies every entry and returns the ones that made it. A failed item
// is logged and skipped.
func Upload(up Uploader, m *Manifest, log logger.Logger) []Entry {
	if log == nil {
		log = logger.Noop()
	}
	var done []Entry
	for _, e := range m.Entries {
		if err := up.Upload(e.Local, e.Remote); err != nil {
			log.Warn("upload of %s failed: %v", e.Local, err)
			continue
		}
		log.Debug("uploaded %s -> %s", e.Local, e.Remote)
		done = append(done, e)
	}
	return done
}

// Download copies every entry and returns the local paths written, in
// manifest order. A failed item is logged and skipped.
func Download(down Downloader, m *Manifest, log logger.Logger) []string {
	if log == nil {
		log = logger.Noop()
	}
	var done []string
	for _, e := range m.Entries {
		if err := down.Download(e.Remote, e.Local); err != nil {
			log.Warn("download of %s failed: %v", e.Remote, err)
			continue
		}
		log.Debug("downloaded %s -> %s", e.Remote, e.Local)
		done = append(done, e.Local)
	}
	return done
}
