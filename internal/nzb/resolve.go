package nzb

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Inspector extracts the true filename embedded in a fetched payload.
// The payload format (and full decoding) lives outside this package.
type Inspector interface {
	ExtractFilename(seg *Segment) (string, error)
}

var segmentSuffixRe = regexp.MustCompile(`^(.+)\.segment(\d{4})$`)

// Resolver derives on-disk destinations for files and segments and
// decides whether a target still needs fetching. It is the single
// place where a provisional name is promoted to the resolved one.
type Resolver struct {
	WorkingDir string
	Inspector  Inspector

	// StrictSubject requires the on-disk name to appear quoted in the
	// subject line instead of as a bare substring. The loose default
	// matches the historical behavior; both err toward re-fetching.
	StrictSubject bool
}

// Destination returns the file's current best-known path in the
// working area. Idempotent; safe to call repeatedly from either
// concurrency domain. Once the file is resolved the same path is
// returned for the life of the file.
func (r *Resolver) Destination(f *File) (string, error) {
	f.nameMu.Lock()
	defer f.nameMu.Unlock()
	return r.destinationLocked(f)
}

// SegmentDestination returns where a decoded segment lands: the owning
// file's destination plus a fixed-width segment suffix.
func (r *Resolver) SegmentDestination(s *Segment) (string, error) {
	s.File.nameMu.Lock()
	defer s.File.nameMu.Unlock()
	dest, err := r.destinationLocked(s.File)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.segment%04d", dest, s.Number), nil
}

func (r *Resolver) destinationLocked(f *File) (string, error) {
	if f.filename != "" {
		return filepath.Join(r.WorkingDir, f.filename), nil
	}

	var first *Segment
	if len(f.Segments) > 0 {
		first = f.Segments[0]
	}

	// Stick with the cached temp name until the first segment's
	// payload is available. Only the first segment carries the real
	// name reliably; segments download out of order.
	if f.tempFilename != "" && (first == nil || !first.HasArticle()) {
		return filepath.Join(r.WorkingDir, f.tempFilename), nil
	}

	if first != nil {
		if err := r.nameFromArticleLocked(f, first); err != nil {
			return "", err
		}
	} else {
		f.tempFilename = tempFilename(f)
	}

	if f.filename == "" {
		return filepath.Join(r.WorkingDir, f.tempFilename), nil
	}
	return filepath.Join(r.WorkingDir, f.filename), nil
}

// nameFromArticleLocked promotes the file's name from the first
// segment's payload. Without a payload it falls back to synthesizing
// the temp name. Caller holds f.nameMu.
func (r *Resolver) nameFromArticleLocked(f *File, first *Segment) error {
	if !first.HasArticle() {
		if first.Number == 1 {
			f.tempFilename = tempFilename(f)
		}
		if f.filename == "" && f.tempFilename == "" {
			return &ResolutionError{File: f}
		}
		return nil
	}

	name, err := r.Inspector.ExtractFilename(first)
	if err == nil && name != "" {
		f.filename = sanitizeFilename(name)
	}

	if f.filename == "" && f.tempFilename == "" {
		return &ResolutionError{File: f}
	}
	return nil
}

// tempFilename synthesizes the deterministic provisional name from the
// archive's display name and the file's sequence number.
func tempFilename(f *File) string {
	return fmt.Sprintf("gonzbd-tmp-%s.file%04d", f.Archive.Name, f.Number)
}

// sanitizeFilename strips path separators a poster may have smuggled
// into the embedded name.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	return strings.TrimSpace(name)
}

// NeedsFetch reports whether the target is absent from the working
// area. False only on positive evidence that the bytes are already on
// disk; every ambiguous case fetches again.
func (r *Resolver) NeedsFetch(t FetchTarget) bool {
	f, seg := t.target()

	// Hold the name lock for the whole check so a worker mid-promotion
	// is never observed half-updated.
	f.nameMu.Lock()
	defer f.nameMu.Unlock()

	var dest string
	var destErr error
	if seg != nil {
		dest, destErr = r.destinationLocked(f)
		if destErr == nil {
			dest = fmt.Sprintf("%s.segment%04d", dest, seg.Number)
		}
	} else {
		dest, destErr = r.destinationLocked(f)
	}
	if destErr == nil && isRegularFile(dest) {
		return false
	}
	if seg != nil && destErr == nil {
		// A fully assembled file also satisfies any of its segments.
		if whole, err := r.destinationLocked(f); err == nil && isRegularFile(whole) {
			return false
		}
	}

	if f.filename != "" {
		return true
	}

	// No real name yet: the subject line is the only identity hint.
	// Scan the working area for either a whole-file match or a decoded
	// segment whose de-suffixed name appears in the subject.
	entries, err := os.ReadDir(r.WorkingDir)
	if err != nil {
		return true
	}
	for _, entry := range entries {
		name := entry.Name()
		if m := segmentSuffixRe.FindStringSubmatch(name); m != nil {
			if seg == nil {
				continue
			}
			number, err := strconv.Atoi(m[2])
			if err != nil || number != seg.Number {
				continue
			}
			if r.subjectMatches(f.Subject, m[1]) {
				return false
			}
		} else if r.subjectMatches(f.Subject, name) {
			return false
		}
	}

	return true
}

func (r *Resolver) subjectMatches(subject, candidate string) bool {
	if candidate == "" {
		return false
	}
	if r.StrictSubject {
		return strings.Contains(subject, `"`+candidate+`"`)
	}
	return strings.Contains(subject, candidate)
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
