package notifier

import (
	"fmt"
	"path/filepath"

	"github.com/italolelis/mediafetch/internal/media"
)

// FinishedMessage describes a successful download.
func FinishedMessage(url string, out media.Outcome) string {
	name := out.Title
	if name == "" {
		name = filepath.Base(out.ArtifactPath)
	}

	msg := fmt.Sprintf("✅ Download finished: %s (%s via %s)", name, url, out.Backend)
	if out.Degraded {
		msg += "\n⚠️ saved without conversion"
	}

	return msg
}

// FailedMessage describes a failed download.
func FailedMessage(url string, out media.Outcome) string {
	return fmt.Sprintf("❌ Download failed for %s: %s", url, out.Error)
}
