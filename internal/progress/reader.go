package progress

import (
	"context"
	"io"
)

// Reader wraps an io.Reader, reports progress via a callback and stops as
// soon as its context is done.
type Reader struct {
	ctx            context.Context
	Reader         io.Reader
	Total          int64
	OnProgress     func(read int64, total int64)
	totalRead      int64 // cumulative total
	lastReport     int64 // bytes since last report
	reportInterval int64 // bytes, 0 reports every chunk
}

func NewReader(ctx context.Context, r io.Reader, total int64, interval int64, cb func(read int64, total int64)) *Reader {
	return &Reader{
		ctx:            ctx,
		Reader:         r,
		Total:          total,
		OnProgress:     cb,
		reportInterval: interval,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	if err := pr.ctx.Err(); err != nil {
		return 0, err
	}

	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.lastReport += int64(n)

		if pr.lastReport >= pr.reportInterval || (pr.Total > 0 && pr.totalRead >= pr.Total) {
			pr.report()
		}
	}

	if err == io.EOF && pr.lastReport > 0 {
		pr.report()
	}

	return n, err
}

// BytesRead returns the number of bytes read so far.
func (pr *Reader) BytesRead() int64 {
	return pr.totalRead
}

func (pr *Reader) report() {
	if pr.OnProgress != nil {
		pr.OnProgress(pr.totalRead, pr.Total)
	}

	pr.lastReport = 0
}
