package inspect

import (
	"bufio"
	"bytes"
	"errors"
	"strings"

	"github.com/datallboy/gonzbd/internal/nzb"
)

var (
	ErrNoArticle      = errors.New("segment has no fetched payload")
	ErrHeaderNotFound = errors.New("yenc header not found")
)

// YencInspector pulls the true filename out of a fetched article's
// yEnc header. yEnc carries name= in every part's =ybegin line, which
// is what makes resolving from the first fetched segment possible.
// Full payload decoding and CRC verification happen elsewhere.
type YencInspector struct{}

func (YencInspector) ExtractFilename(seg *nzb.Segment) (string, error) {
	data := seg.ArticleData()
	if data == nil {
		return "", ErrNoArticle
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "=ybegin") {
			continue
		}
		// name is the last keyword on the line; its value may contain
		// spaces, so everything after " name=" belongs to it.
		idx := strings.Index(line, " name=")
		if idx < 0 {
			return "", ErrHeaderNotFound
		}
		name := strings.TrimSpace(line[idx+len(" name="):])
		if name == "" {
			return "", ErrHeaderNotFound
		}
		return name, nil
	}
	return "", ErrHeaderNotFound
}

// TrailerChecksum extracts the part CRC from the =yend trailer, or ""
// when the article does not carry one.
func TrailerChecksum(data []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "=yend") {
			continue
		}
		for _, field := range strings.Fields(line) {
			if v, ok := strings.CutPrefix(field, "pcrc32="); ok {
				return v
			}
			if v, ok := strings.CutPrefix(field, "crc32="); ok {
				return v
			}
		}
	}
	return ""
}
