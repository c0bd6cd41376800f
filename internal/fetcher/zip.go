package fetcher

import (
	"archive/zip"
	"io"

	"github.com/rotisserie/eris"
)

// VerifyZIP checks that path is a readable ZIP archive with at least one file
// entry, reading every entry through to catch truncated or corrupt data.
func VerifyZIP(path string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	files := 0
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := verifyZIPEntry(f); err != nil {
			return err
		}
		files++
	}
	if files == 0 {
		return eris.New("zip: archive has no files")
	}
	return nil
}

// verifyZIPEntry reads one entry; the zip reader checks its CRC at EOF.
func verifyZIPEntry(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "zip: open entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	if _, err := io.Copy(io.Discard, rc); err != nil {
		return eris.Wrapf(err, "zip: read entry %s", f.Name)
	}
	return nil
}
