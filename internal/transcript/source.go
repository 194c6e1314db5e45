package transcript

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultPattern matches transcript files.
const DefaultPattern = "*.jsonl"

// maxLineBytes bounds one JSONL record. Tool results can be large.
const maxLineBytes = 16 * 1024 * 1024

// Source enumerates transcripts under a set of roots. A transcript's
// project is the first directory below its root.
type Source struct {
	roots   []string
	pattern string
	logger  *slog.Logger
}

// NewSource creates a Source. An empty pattern uses DefaultPattern.
func NewSource(roots []string, pattern string, logger *slog.Logger) *Source {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{roots: roots, pattern: pattern, logger: logger.With("component", "transcript")}
}

// Roots returns the configured roots.
func (s *Source) Roots() []string {
	return s.roots
}

// Discover walks every root and returns matching files sorted by path.
// Missing roots are skipped.
func (s *Source) Discover(ctx context.Context) ([]File, error) {
	var files []File
	for _, root := range s.roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root && errors.Is(err, fs.ErrNotExist) {
					s.logger.Debug("source_root_missing", slog.String("root", root))
					return fs.SkipDir
				}
				s.logger.Warn("source_walk_error", slog.String("path", path), slog.String("error", err.Error()))
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return fs.SkipDir
				}
				return nil
			}
			if !s.Matches(path) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			files = append(files, File{
				Path:       path,
				Project:    projectFor(root, path),
				ModifiedAt: info.ModTime().UTC(),
				Size:       info.Size(),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", root, err)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Matches reports whether path has the transcript file pattern.
func (s *Source) Matches(path string) bool {
	ok, _ := filepath.Match(s.pattern, filepath.Base(path))
	return ok
}

// Stat describes one transcript under a configured root.
func (s *Source) Stat(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	project := ""
	for _, root := range s.roots {
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			project = projectFor(root, path)
			break
		}
	}
	if project == "" {
		project = filepath.Base(filepath.Dir(path))
	}
	return File{Path: path, Project: project, ModifiedAt: info.ModTime().UTC(), Size: info.Size()}, nil
}

// projectFor names the project of path below root: the first directory
// under root, or root's own name for files directly inside it.
func projectFor(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.Base(filepath.Dir(path))
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) > 1 {
		return parts[0]
	}
	return filepath.Base(filepath.Clean(root))
}

// Open starts streaming messages from path.
func (s *Source) Open(ctx context.Context, path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return newReader(ctx, f, path, s.logger), nil
}

// Reader streams messages from one transcript in source order. Malformed
// records are skipped and counted.
type Reader struct {
	ctx     context.Context
	closer  io.Closer
	scanner *bufio.Scanner
	parser  *parser
	path    string
	logger  *slog.Logger

	queue   []Message
	line    int
	index   int
	skipped int
}

// NewReader streams messages from r. Closing the Reader closes r if it is
// an io.Closer.
func NewReader(ctx context.Context, r io.Reader, name string, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return newReader(ctx, r, name, logger)
}

func newReader(ctx context.Context, r io.Reader, name string, logger *slog.Logger) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	rd := &Reader{
		ctx:     ctx,
		scanner: sc,
		parser:  newParser(),
		path:    name,
		logger:  logger,
	}
	if c, ok := r.(io.Closer); ok {
		rd.closer = c
	}
	return rd
}

// Next returns the next message, or io.EOF after the last one.
func (r *Reader) Next() (Message, error) {
	for len(r.queue) == 0 {
		if err := r.ctx.Err(); err != nil {
			return Message{}, err
		}
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				if errors.Is(err, bufio.ErrTooLong) {
					// The rest of the file cannot be framed; treat it as one bad record.
					r.skip(r.line+1, "record exceeds maximum line size")
					return Message{}, io.EOF
				}
				return Message{}, fmt.Errorf("read %s: %w", r.path, err)
			}
			return Message{}, io.EOF
		}
		r.line++
		raw := r.scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		msgs, ok := r.parser.parseLine(raw, r.line)
		if !ok {
			r.skip(r.line, "malformed record")
			continue
		}
		r.queue = msgs
	}

	m := r.queue[0]
	r.queue = r.queue[1:]
	m.Index = r.index
	r.index++
	return m, nil
}

func (r *Reader) skip(line int, reason string) {
	r.skipped++
	r.logger.Warn("transcript_record_skipped",
		slog.String("path", r.path),
		slog.Int("line", line),
		slog.String("reason", reason))
}

// Skipped returns how many malformed records were skipped so far.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ReadAll drains r. Convenience for small files and tests.
func ReadAll(r *Reader) ([]Message, error) {
	var out []Message
	for {
		m, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
}
