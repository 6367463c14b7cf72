// internal/metadata/repository.go
package metadata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/tracecheck/api/schemas"
)

// Repository answers episode metadata lookups. It is built once and passed
// to whatever needs it; implementations are read-only and safe for
// concurrent use.
type Repository interface {
	// AllEpisodes returns every episode in file order.
	AllEpisodes() []schemas.EpisodeMetadata
	// EpisodesByCategory returns the episodes of one category in file order.
	EpisodesByCategory(c schemas.TaskCategory) []schemas.EpisodeMetadata
	// Lookup returns the metadata for one episode or ErrEpisodeNotFound.
	Lookup(episode string) (schemas.EpisodeMetadata, error)
}

var requiredColumns = []string{"episode", "category", "path", "description"}

// CSVRepository is a Repository loaded from the dataset's metadata table
// with the header episode,category,path,description,nsteps.
type CSVRepository struct {
	episodes []schemas.EpisodeMetadata
	index    map[string]int
}

// LoadCSV reads the metadata table at path. The path may start with ~.
func LoadCSV(path string) (*CSVRepository, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand metadata path %q: %w", path, err)
	}
	f, err := os.Open(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata file: %w", err)
	}
	defer f.Close()

	repo, err := ParseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", expanded, err)
	}
	return repo, nil
}

// ParseCSV decodes a metadata table. Columns are located by header name, and
// descriptions may contain quoted commas.
func ParseCSV(r io.Reader) (*CSVRepository, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("metadata table is empty")
		}
		return nil, fmt.Errorf("failed to read metadata header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("metadata header is missing column %q", c)
		}
	}
	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	repo := &CSVRepository{index: make(map[string]int)}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata line %d: %w", line, err)
		}
		episode := field(rec, "episode")
		if episode == "" {
			continue
		}
		category, err := schemas.ParseTaskCategory(field(rec, "category"))
		if err != nil {
			return nil, fmt.Errorf("metadata line %d: %w", line, err)
		}
		meta := schemas.EpisodeMetadata{
			Episode:     episode,
			Category:    category,
			Path:        field(rec, "path"),
			Description: field(rec, "description"),
		}
		if s := field(rec, "nsteps"); s != "" {
			if meta.NumSteps, err = strconv.Atoi(s); err != nil {
				return nil, fmt.Errorf("metadata line %d: invalid nsteps %q", line, s)
			}
		}
		if _, dup := repo.index[episode]; dup {
			return nil, fmt.Errorf("metadata line %d: duplicate episode %q", line, episode)
		}
		repo.index[episode] = len(repo.episodes)
		repo.episodes = append(repo.episodes, meta)
	}
	return repo, nil
}

// AllEpisodes implements Repository.
func (r *CSVRepository) AllEpisodes() []schemas.EpisodeMetadata {
	out := make([]schemas.EpisodeMetadata, len(r.episodes))
	copy(out, r.episodes)
	return out
}

// EpisodesByCategory implements Repository.
func (r *CSVRepository) EpisodesByCategory(c schemas.TaskCategory) []schemas.EpisodeMetadata {
	var out []schemas.EpisodeMetadata
	for _, e := range r.episodes {
		if e.Category == c {
			out = append(out, e)
		}
	}
	return out
}

// Lookup implements Repository.
func (r *CSVRepository) Lookup(episode string) (schemas.EpisodeMetadata, error) {
	i, ok := r.index[episode]
	if !ok {
		return schemas.EpisodeMetadata{}, fmt.Errorf("%w: %s", schemas.ErrEpisodeNotFound, episode)
	}
	return r.episodes[i], nil
}
