package nzb

import (
	"encoding/xml"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/datallboy/gonzbd/internal/infra/logger"
)

// Finisher is the completion collaborator: given a parsed archive it
// may decide everything is already on disk and finish it immediately,
// short-circuiting the fetch phase.
type Finisher interface {
	TryFinish(a *Archive) (bool, error)
}

// Parser streams a manifest into Archive/File/Segment entities and
// feeds the download queue. Whether a file's segments are enqueued at
// all is decided once, at file-start, from file-level state only. The
// segments themselves attach and enqueue at file close: fetch workers
// already draining the queue must never observe a file whose segment
// list is still growing.
type Parser struct {
	Queue    *DownloadQueue
	Resolver *Resolver
	Finisher Finisher
	Log      *logger.Logger
}

// pendingSegment holds one parsed segment element until the owning
// file element closes.
type pendingSegment struct {
	bytes     int64
	number    int
	messageID string
}

// Parse consumes the archive's manifest and reports whether any fetch
// work was queued. A malformed manifest fails with *ParseError and the
// archive must be treated as unusable.
func (p *Parser) Parse(a *Archive) (bool, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return false, &ParseError{Path: a.Path, Err: err}
	}
	defer f.Close()

	queued, err := p.parseStream(a, f)
	if err != nil {
		return false, err
	}

	// The whole archive may already be sitting on disk; give the
	// completion collaborator a chance to finish it without a single
	// fetch.
	if p.Finisher != nil {
		finished, err := p.Finisher.TryFinish(a)
		if err != nil {
			p.Log.Error("completion check for %s: %v", a.Name, err)
		} else if finished {
			p.Log.Info("archive %s was already complete on disk", a.Name)
		}
	}

	return queued, nil
}

func (p *Parser) parseStream(a *Archive, r io.Reader) (bool, error) {
	d := xml.NewDecoder(r)
	d.Strict = true
	// Manifests are untrusted: no custom entity table, so anything
	// beyond the predefined five fails the parse instead of expanding.
	d.Entity = map[string]string{}

	var (
		queued      bool
		current     *File
		needsFetch  bool
		pending     []pendingSegment
		chars       *strings.Builder
		segBytes    int64
		segNumber   int
		metaType    string
		inHead      bool
		segmentOpen bool
		groupOpen   bool
		sawRoot     bool
	)

	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, &ParseError{Path: a.Path, Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "nzb":
				sawRoot = true
			case "head":
				inHead = true
			case "meta":
				if inHead {
					metaType = attr(t, "type")
					chars = &strings.Builder{}
				}
			case "file":
				current = NewFile(attr(t, "subject"), parseDate(attr(t, "date")),
					attr(t, "poster"), a)
				// Decided once, here, before any segments exist.
				needsFetch = p.Resolver.NeedsFetch(current)
				if !needsFetch {
					p.Log.Debug("file %d of %s already on disk, skipping",
						current.Number, a.Name)
				}
			case "group":
				groupOpen = true
				chars = &strings.Builder{}
			case "segment":
				if current == nil {
					return false, &ParseError{Path: a.Path,
						Err: errSegmentOutsideFile}
				}
				segmentOpen = true
				segBytes = parseBytes(attr(t, "bytes"))
				segNumber, _ = strconv.Atoi(attr(t, "number"))
				chars = &strings.Builder{}
			}

		case xml.CharData:
			if chars != nil {
				chars.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "head":
				inHead = false
			case "meta":
				if inHead && chars != nil {
					if strings.EqualFold(metaType, "password") {
						a.Password = strings.TrimSpace(chars.String())
					}
				}
				chars = nil
				metaType = ""
			case "file":
				if current != nil {
					for _, ps := range pending {
						NewSegment(ps.bytes, ps.number, ps.messageID, current)
					}
					// The segment list is complete; the first push below
					// publishes it to the workers.
					if needsFetch && len(current.Segments) > 0 {
						p.Queue.Push(PriorityContent, current)
						queued = true
					}
				}
				pending = pending[:0]
				current = nil
			case "group":
				if groupOpen && current != nil && chars != nil {
					current.Groups = append(current.Groups, chars.String())
				}
				groupOpen = false
				chars = nil
			case "segment":
				if segmentOpen && current != nil && chars != nil {
					pending = append(pending, pendingSegment{
						bytes:     segBytes,
						number:    segNumber,
						messageID: strings.TrimSpace(chars.String()),
					})
				}
				segmentOpen = false
				chars = nil
				segBytes = 0
				segNumber = 0
			}
		}
	}

	if !sawRoot {
		return false, &ParseError{Path: a.Path, Err: errMissingRoot}
	}

	return queued, nil
}

func attr(e xml.StartElement, name string) string {
	for _, a := range e.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func parseDate(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseBytes(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
