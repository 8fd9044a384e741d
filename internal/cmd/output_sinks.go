package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sheetkeeper/sheetkeeper/internal/output"
)

// outputSink writes command output to stdout or to a file. File output is
// staged in a temp file next to the target and only renamed into place by
// Commit, so a failed run never leaves a truncated state dump behind.
type outputSink struct {
	io.Writer
	path string
	tmp  *os.File
}

func outputExtension(format output.Format) string {
	switch format {
	case output.FormatJSON:
		return "json"
	case output.FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

// resolveSinkPath returns the file to write. --out and --out-dir are
// exclusive; --out-dir gets "<stem>.<ext>". Empty means stdout.
func resolveSinkPath(out, outDir, stem string, format output.Format) (string, error) {
	out = strings.TrimSpace(out)
	outDir = strings.TrimSpace(outDir)
	if out != "" && outDir != "" {
		return "", fmt.Errorf("--out and --out-dir are mutually exclusive")
	}
	if outDir == "" {
		return out, nil
	}
	abs, err := filepath.Abs(outDir)
	if err != nil {
		abs = outDir
	}
	return filepath.Join(abs, stem+"."+outputExtension(format)), nil
}

func openSink(cmd *cobra.Command, path string) (*outputSink, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		return &outputSink{Writer: cmd.OutOrStdout(), path: "-"}, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return &outputSink{Writer: tmp, path: path, tmp: tmp}, nil
}

// Commit moves staged file output into place. No-op for stdout.
func (s *outputSink) Commit() error {
	if s.tmp == nil {
		return nil
	}
	tmp := s.tmp
	s.tmp = nil
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

// Close discards uncommitted file output.
func (s *outputSink) Close() error {
	if s.tmp == nil {
		return nil
	}
	name := s.tmp.Name()
	_ = s.tmp.Close()
	s.tmp = nil
	return os.Remove(name)
}
