// Package source reads collected items from JSON Lines files.
package source

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/digest-engine/internal/model"
)

const maxLineBytes = 4 << 20

// ProcessedDir is the inbox subdirectory consumed files are moved into.
const ProcessedDir = "processed"

// Batch is the result of reading one or more input files.
type Batch struct {
	Items    []model.Item
	Received int
	Invalid  int
	Files    []string
}

// record is the wire shape of one input line.
type record struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	SourceID    string            `json:"source_id"`
	PublishedAt *string           `json:"published_at"`
	SourceTrust *float64          `json:"source_trust_score"`
	Engagement  *float64          `json:"engagement_signal"`
	Tags        []string          `json:"tags"`
	Metadata    map[string]string `json:"metadata"`
}

// ReadJSONL decodes items from r, one JSON object per line. Blank lines are
// skipped. Lines that fail to decode or validate are counted as invalid and
// logged; they never abort the read.
func ReadJSONL(ctx context.Context, r io.Reader, name string) (Batch, error) {
	var b Batch
	log := zap.L().With(zap.String("file", name))

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return b, err
			}
		}
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		b.Received++

		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			b.Invalid++
			log.Warn("source: undecodable line", zap.Int("line", line), zap.Error(err))
			continue
		}
		it, err := toItem(rec)
		if err != nil {
			b.Invalid++
			log.Warn("source: invalid item", zap.Int("line", line), zap.Error(err))
			continue
		}
		b.Items = append(b.Items, it)
	}
	if err := sc.Err(); err != nil {
		return b, eris.Wrapf(err, "source: read %s", name)
	}
	return b, nil
}

// ReadFiles reads every path in order and concatenates the results.
func ReadFiles(ctx context.Context, paths []string) (Batch, error) {
	var all Batch
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return all, eris.Wrapf(err, "source: open %s", p)
		}
		b, err := ReadJSONL(ctx, f, p)
		_ = f.Close()
		if err != nil {
			return all, err
		}
		all.Items = append(all.Items, b.Items...)
		all.Received += b.Received
		all.Invalid += b.Invalid
		all.Files = append(all.Files, p)
	}
	return all, nil
}

// InboxFiles lists the *.jsonl files directly inside dir, sorted by name.
// A missing inbox yields no files.
func InboxFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "source: list inbox %s", dir)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// MarkProcessed moves consumed inbox files into dir/processed so the next
// run does not read them again.
func MarkProcessed(dir string, files []string) error {
	dest := filepath.Join(dir, ProcessedDir)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return eris.Wrapf(err, "source: create %s", dest)
	}
	for _, f := range files {
		if err := os.Rename(f, filepath.Join(dest, filepath.Base(f))); err != nil {
			return eris.Wrapf(err, "source: move %s", f)
		}
	}
	return nil
}
