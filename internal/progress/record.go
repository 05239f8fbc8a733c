package progress

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Status is the lifecycle position reported to observers.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusResolving   Status = "resolving"
	StatusDownloading Status = "downloading"
	StatusConverting  Status = "converting"
	StatusFinished    Status = "finished"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further updates follow s.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Record is the normalized progress of one request.
type Record struct {
	Status           Status    `json:"status"`
	Percentage       float64   `json:"percentage"`
	SpeedBytesPerSec *float64  `json:"speed_bytes_per_sec,omitempty"`
	ETASeconds       *int64    `json:"eta_seconds,omitempty"`
	DownloadedBytes  int64     `json:"downloaded_bytes"`
	TotalBytes       *int64    `json:"total_bytes,omitempty"`
	Filename         string    `json:"filename,omitempty"`
	Attempt          int       `json:"attempt"`
	Backend          string    `json:"backend,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// clone returns a copy that shares no pointers with r.
func (r Record) clone() Record {
	out := r

	if r.SpeedBytesPerSec != nil {
		v := *r.SpeedBytesPerSec
		out.SpeedBytesPerSec = &v
	}

	if r.ETASeconds != nil {
		v := *r.ETASeconds
		out.ETASeconds = &v
	}

	if r.TotalBytes != nil {
		v := *r.TotalBytes
		out.TotalBytes = &v
	}

	return out
}

// Display holds presentation strings derived from a Record.
type Display struct {
	Percent    string `json:"percent"`
	Speed      string `json:"speed"`
	ETA        string `json:"eta"`
	Downloaded string `json:"downloaded"`
	Total      string `json:"total"`
}

// Format renders r for people. Unknown values render as "N/A".
func Format(r Record) Display {
	d := Display{
		Percent:    humanize.FtoaWithDigits(r.Percentage, 1) + "%",
		Speed:      "N/A",
		ETA:        "N/A",
		Downloaded: humanize.Bytes(uint64(r.DownloadedBytes)),
		Total:      "N/A",
	}

	if r.SpeedBytesPerSec != nil {
		d.Speed = fmt.Sprintf("%.2f MB/s", *r.SpeedBytesPerSec/(1024*1024))
	}

	if r.ETASeconds != nil {
		eta := *r.ETASeconds
		if eta >= 3600 {
			d.ETA = fmt.Sprintf("%d:%02d:%02d", eta/3600, (eta%3600)/60, eta%60)
		} else {
			d.ETA = fmt.Sprintf("%02d:%02d", eta/60, eta%60)
		}
	}

	if r.TotalBytes != nil {
		d.Total = humanize.Bytes(uint64(*r.TotalBytes))
	}

	return d
}
