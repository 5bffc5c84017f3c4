package voicestore

import (
	"path/filepath"
	"regexp"

	"github.com/book-expert/plomtts/internal/audio"
)

const transcriptExt = "txt"

var voiceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidID reports whether id is a non-empty string of letters, digits, hyphens and
// underscores.
func ValidID(id string) bool {
	return voiceIDPattern.MatchString(id)
}

// Layout maps voice ids onto paths below the voices root. Every voice lives in
// <root>/<id>/ with files named <id>.<ext>.
type Layout struct {
	Root string
}

// Dir returns the directory of voice id.
func (l Layout) Dir(id string) string {
	return filepath.Join(l.Root, id)
}

// AudioPath returns the path of the voice's audio file in the given format.
func (l Layout) AudioPath(id string, format audio.Format) string {
	return filepath.Join(l.Root, id, id+"."+string(format))
}

// CompanionPath returns the path of the normalized wav companion.
func (l Layout) CompanionPath(id string) string {
	return l.AudioPath(id, audio.FormatWAV)
}

// TranscriptPath returns the path of the voice's transcript.
func (l Layout) TranscriptPath(id string) string {
	return filepath.Join(l.Root, id, id+"."+transcriptExt)
}
