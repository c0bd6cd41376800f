package bulkfetch

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ontime-cli/internal/fetcher"
)

// drainLimit bounds how much of a non-200 body is read so the connection can
// be reused.
const drainLimit = 64 << 10

// Retriever fetches one task's archive into a staging file and commits it to
// LocalPath only once the whole body has been written.
type Retriever struct {
	fetcher    fetcher.Fetcher
	stagingDir string
	timeout    time.Duration
	chunkSize  int
}

// NewRetriever creates a Retriever that stages files under stagingDir.
func NewRetriever(f fetcher.Fetcher, stagingDir string, timeout time.Duration, chunkSize int) *Retriever {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Retriever{
		fetcher:    f,
		stagingDir: stagingDir,
		timeout:    timeout,
		chunkSize:  chunkSize,
	}
}

// Retrieve performs a single attempt for task. It never retries and never
// leaves a partial file at task.LocalPath.
func (r *Retriever) Retrieve(ctx context.Context, task Task) Outcome {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.fetcher.Get(ctx, task.RemoteURL)
	if err != nil {
		return failed(task, err, time.Since(start))
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
		return unavailable(task, resp.StatusCode, time.Since(start))
	}

	size, err := r.commit(task, resp)
	if err != nil {
		return failed(task, err, time.Since(start))
	}
	return succeeded(task, size, time.Since(start))
}

// writerOnly hides os.File's ReadFrom so io.CopyBuffer streams through the
// fixed-size chunk buffer.
type writerOnly struct {
	io.Writer
}

func (r *Retriever) commit(task Task, resp *http.Response) (int64, error) {
	staging, err := os.CreateTemp(r.stagingDir, task.RemoteName+".*.part")
	if err != nil {
		return 0, eris.Wrap(err, "retriever: create staging file")
	}
	stagingPath := staging.Name()
	committed := false
	defer func() {
		if !committed {
			_ = staging.Close()
			_ = os.Remove(stagingPath)
		}
	}()

	buf := make([]byte, r.chunkSize)
	n, err := io.CopyBuffer(writerOnly{staging}, resp.Body, buf)
	if err != nil {
		return 0, eris.Wrap(err, "retriever: stream body")
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return 0, eris.Wrapf(io.ErrUnexpectedEOF, "retriever: received %d of %d bytes", n, resp.ContentLength)
	}
	if n == 0 {
		return 0, eris.New("retriever: empty response body")
	}
	if err := staging.Sync(); err != nil {
		return 0, eris.Wrap(err, "retriever: sync staging file")
	}
	if err := staging.Close(); err != nil {
		return 0, eris.Wrap(err, "retriever: close staging file")
	}
	if err := os.Rename(stagingPath, task.LocalPath); err != nil {
		return 0, eris.Wrap(err, "retriever: commit artifact")
	}
	committed = true

	// The artifact is committed at this point, so a sync failure is only logged.
	if err := syncDir(filepath.Dir(task.LocalPath)); err != nil {
		zap.L().Warn("retriever: sync output directory",
			zap.String("period", task.Period.String()),
			zap.Error(err),
		)
	}

	info, err := os.Stat(task.LocalPath)
	if err != nil {
		return n, nil
	}
	return info.Size(), nil
}

// syncDir flushes dir's entries so a completed rename survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return eris.Wrapf(err, "retriever: open directory %s", dir)
	}
	defer d.Close() //nolint:errcheck
	if err := d.Sync(); err != nil {
		return eris.Wrapf(err, "retriever: sync directory %s", dir)
	}
	return nil
}
