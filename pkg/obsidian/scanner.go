package obsidian

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ScannedFile describes one markdown file found in the vault.
type ScannedFile struct {
	Path         string
	RelativePath string
	ModifiedAt   time.Time
	SizeBytes    int64
}

// Scanner finds markdown files in an Obsidian vault using glob
// patterns.
type Scanner struct {
	VaultPath string
}

// NewScanner creates a scanner rooted at the vault path.
func NewScanner(vaultPath string) (*Scanner, error) {
	info, err := os.Stat(vaultPath)
	if err != nil {
		return nil, fmt.Errorf("vault path does not exist: %s", vaultPath)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault path is not a directory: %s", vaultPath)
	}
	return &Scanner{VaultPath: vaultPath}, nil
}

// Scan returns files matching any of the glob patterns, resolved
// against the vault root. Patterns may use ** for recursive matching.
// Overlapping patterns are deduplicated by absolute path (first
// occurrence wins); only regular .md files are kept. The result is
// sorted by modification time, newest first — downstream import logic
// relies on processing the most recently touched files first.
func (s *Scanner) Scan(patterns []string) []ScannedFile {
	entries := s.walkVault()

	var files []ScannedFile
	seen := make(map[string]bool)

	for _, pattern := range patterns {
		re, err := compileGlob(pattern)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if seen[e.Path] {
				continue
			}
			if !re.MatchString(filepath.ToSlash(e.RelativePath)) {
				continue
			}
			seen[e.Path] = true
			files = append(files, e)
		}
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModifiedAt.After(files[j].ModifiedAt)
	})
	return files
}

// ScanSingle returns info about one file, or nil if it does not exist
// or is not a regular file.
func (s *Scanner) ScanSingle(path string) *ScannedFile {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	rel, err := filepath.Rel(s.VaultPath, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = path
	}

	return &ScannedFile{
		Path:         abs,
		RelativePath: rel,
		ModifiedAt:   info.ModTime(),
		SizeBytes:    info.Size(),
	}
}

// ReadFile reads a whole file as a string.
func (s *Scanner) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// WriteFile replaces a file's content, creating parent directories as
// needed. Writes are whole-file replacements, never appends.
func (s *Scanner) WriteFile(path, content string) error {
	return WriteFile(path, content)
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ListDirectories lists visible subdirectories under a vault-relative
// path.
func (s *Scanner) ListDirectories(relativePath string) []string {
	target := s.VaultPath
	if relativePath != "" {
		target = filepath.Join(s.VaultPath, relativePath)
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return nil
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs
}

// FindTodoFiles scans for common TODO file naming patterns.
func (s *Scanner) FindTodoFiles() []ScannedFile {
	return s.Scan([]string{
		"**/*TODO*.md",
		"**/*Tasks*.md",
		"**/tasks.md",
		"00_Inbox/**/*.md",
	})
}

// walkVault lists every regular .md file under the vault root. Files
// that cannot be stat'ed are skipped rather than failing the scan.
func (s *Scanner) walkVault() []ScannedFile {
	var entries []ScannedFile
	_ = filepath.Walk(s.VaultPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(s.VaultPath, path)
		if err != nil {
			return nil
		}
		entries = append(entries, ScannedFile{
			Path:         abs,
			RelativePath: rel,
			ModifiedAt:   info.ModTime(),
			SizeBytes:    info.Size(),
		})
		return nil
	})
	return entries
}

// compileGlob translates a glob pattern to a regular expression over
// slash-separated relative paths. ** crosses directory separators,
// * and ? do not.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString(`^`)

	p := filepath.ToSlash(pattern)
	for i := 0; i < len(p); i++ {
		switch c := p[i]; c {
		case '*':
			if i+1 < len(p) && p[i+1] == '*' {
				if i+2 < len(p) && p[i+2] == '/' {
					sb.WriteString(`(?:.*/)?`)
					i += 2
				} else {
					sb.WriteString(`.*`)
					i++
				}
			} else {
				sb.WriteString(`[^/]*`)
			}
		case '?':
			sb.WriteString(`[^/]`)
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	sb.WriteString(`$`)
	return regexp.Compile(sb.String())
}
