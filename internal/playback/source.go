package playback

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/novoground/gcs/internal/domain"
	"github.com/novoground/gcs/internal/recording"
)

// Source yields an ordered telemetry sequence.
type Source interface {
	Load(ctx context.Context) ([]domain.Snapshot, error)
	String() string
}

type csvSource struct {
	path string
}

// CSVSource reads a table written by recording.Logger. Columns are matched
// by header name, so tables with reordered columns load too.
func CSVSource(path string) Source {
	return csvSource{path: path}
}

func (s csvSource) String() string {
	return s.path
}

func (s csvSource) Load(ctx context.Context) ([]domain.Snapshot, error) {
	// #nosec G304 -- path is chosen by the operator.
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("missing header")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	order, err := columnOrder(header)
	if err != nil {
		return nil, err
	}

	var (
		out []domain.Snapshot
		buf = make([]string, len(recording.Header))
	)
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) != len(header) {
			return nil, fmt.Errorf("line %d: expected %d fields, got %d", line, len(header), len(rec))
		}
		for i, idx := range order {
			buf[i] = rec[idx]
		}
		snap, err := recording.ParseRow(buf)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, snap)
	}

	return out, nil
}

// columnOrder maps each canonical column to its index in header.
func columnOrder(header []string) ([]int, error) {
	pos := make(map[string]int, len(header))
	for i, name := range header {
		pos[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}

	order := make([]int, len(recording.Header))
	var missing []string
	for i, name := range recording.Header {
		idx, ok := pos[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		order[i] = idx
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}

	return order, nil
}

// SessionReader is the archive lookup ArchiveSource needs.
type SessionReader interface {
	ListBySession(ctx context.Context, sessionID string) ([]domain.Snapshot, error)
}

type archiveSource struct {
	repo      SessionReader
	sessionID string
}

// ArchiveSource replays one archived recording session.
func ArchiveSource(repo SessionReader, sessionID string) Source {
	return archiveSource{repo: repo, sessionID: sessionID}
}

func (s archiveSource) String() string {
	return "archive:" + s.sessionID
}

func (s archiveSource) Load(ctx context.Context) ([]domain.Snapshot, error) {
	if s.repo == nil {
		return nil, errors.New("archive is not open")
	}

	return s.repo.ListBySession(ctx, s.sessionID)
}
