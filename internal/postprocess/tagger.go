package postprocess

import (
	"fmt"

	"github.com/bogem/id3v2"
)

// ID3Tagger writes title and artist frames into mp3 files.
type ID3Tagger struct{}

func (ID3Tagger) Tag(path, title, author string) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open tags: %w", err)
	}
	defer tag.Close()

	if title != "" {
		tag.SetTitle(title)
	}

	if author != "" {
		tag.SetArtist(author)
	}

	return tag.Save()
}
