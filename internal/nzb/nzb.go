package nzb

import (
	"path/filepath"
	"regexp"
	"sync"
)

var manifestExtRe = regexp.MustCompile(`(?i)\.(nzb|xml)$`)

// IsManifest reports whether a file name looks like an NZB manifest.
func IsManifest(name string) bool {
	return manifestExtRe.MatchString(name)
}

// ArchiveName derives the display name for a manifest: the base name
// with the manifest extension stripped.
func ArchiveName(path string) string {
	base := filepath.Base(path)
	return manifestExtRe.ReplaceAllString(base, "")
}

// Archive is one manifest's worth of work: the manifest on disk plus
// the files it enumerates. Files only grow during parsing and never
// reorder.
type Archive struct {
	// ID is assigned by the archive queue at enqueue time and is
	// stable for the archive's lifetime in the queue. Zero until then.
	ID       int64
	Path     string
	Name     string
	Password string
	Files    []*File
}

func NewArchive(path string) *Archive {
	return &Archive{
		Path: path,
		Name: ArchiveName(path),
	}
}

// FilenameState tracks how much of a file's real name is known.
// Transitions are one-way: once Resolved a file never goes back.
type FilenameState int

const (
	Unresolved FilenameState = iota
	Provisional
	Resolved
)

func (s FilenameState) String() string {
	switch s {
	case Provisional:
		return "provisional"
	case Resolved:
		return "resolved"
	default:
		return "unresolved"
	}
}

// File is a single posted file within an archive. The name fields are
// guarded by nameMu: fetch workers promote the provisional name to the
// real one while the scan/parse path reads it, so every read-modify
// sequence over filename/tempFilename holds the lock.
type File struct {
	Archive *Archive
	Subject string
	Date    int64
	Poster  string
	Number  int
	Groups  []string

	// Segments and TotalBytes are built completely before any segment
	// of the file is handed to the download queue. After that first
	// push fetch workers read them concurrently without a lock, so
	// they must never be mutated again.
	Segments   []*Segment
	TotalBytes int64

	nameMu       sync.Mutex
	filename     string
	tempFilename string

	decodedMu sync.Mutex
	decoded   map[int]struct{}
}

// NewFile appends a file to its archive and assigns the next 1-based
// sequence number.
func NewFile(subject string, date int64, poster string, a *Archive) *File {
	f := &File{
		Archive: a,
		Subject: subject,
		Date:    date,
		Poster:  poster,
		decoded: make(map[int]struct{}),
	}
	a.Files = append(a.Files, f)
	f.Number = len(a.Files)
	return f
}

// State reports the current filename-resolution state.
func (f *File) State() FilenameState {
	f.nameMu.Lock()
	defer f.nameMu.Unlock()
	switch {
	case f.filename != "":
		return Resolved
	case f.tempFilename != "":
		return Provisional
	default:
		return Unresolved
	}
}

// Filename returns the resolved name, or "" while unresolved.
func (f *File) Filename() string {
	f.nameMu.Lock()
	defer f.nameMu.Unlock()
	return f.filename
}

// MarkDecoded records that a segment's payload has been decoded to
// disk. Mutated by fetch workers, read by completion checks, hence
// its own lock.
func (f *File) MarkDecoded(number int) {
	f.decodedMu.Lock()
	defer f.decodedMu.Unlock()
	f.decoded[number] = struct{}{}
}

// AllDecoded reports whether every known segment has been decoded.
func (f *File) AllDecoded() bool {
	f.decodedMu.Lock()
	defer f.decodedMu.Unlock()
	if len(f.Segments) == 0 {
		return false
	}
	for _, s := range f.Segments {
		if _, ok := f.decoded[s.Number]; !ok {
			return false
		}
	}
	return true
}

// Segment is one remote message fragment of a file. Identity for
// ordering and matching is (File, Number).
type Segment struct {
	File      *File
	Bytes     int64
	Number    int
	MessageID string

	mu       sync.Mutex
	article  []byte
	checksum string

	// dontRequeue tells the owning worker a disconnect is deliberate.
	// Written under the download queue's lock during safe-cancel.
	dontRequeue bool

	// inQueue guards the enqueue-at-most-once invariant. Only ever
	// touched under the download queue's lock.
	inQueue bool
}

// NewSegment appends a segment to its file and folds its size into the
// file's byte total.
func NewSegment(bytes int64, number int, messageID string, f *File) *Segment {
	s := &Segment{
		File:      f,
		Bytes:     bytes,
		Number:    number,
		MessageID: messageID,
	}
	f.Segments = append(f.Segments, s)
	f.TotalBytes += bytes
	return s
}

// SetArticle stores the fetched payload and the checksum pulled out of
// it, if any.
func (s *Segment) SetArticle(data []byte, checksum string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.article = data
	s.checksum = checksum
}

func (s *Segment) ArticleData() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.article
}

func (s *Segment) HasArticle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.article != nil
}

func (s *Segment) Checksum() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checksum
}

// FetchTarget is the closed variant over the two things that can be
// asked "does this need fetching": a whole file or one segment.
type FetchTarget interface {
	target() (*File, *Segment)
}

func (f *File) target() (*File, *Segment)    { return f, nil }
func (s *Segment) target() (*File, *Segment) { return s.File, s }
