// Package ingest reads the raw TMDB movies and credits tables and turns each
// joined row into a catalog item.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/recommender/internal/catalog"
	"github.com/knowledge-engine/recommender/internal/textproc"
)

// Source yields the raw items of a corpus in a stable order
type Source interface {
	Items(ctx context.Context) ([]catalog.Item, error)
}

// Downloader fetches a missing dataset file
type Downloader interface {
	Download(ctx context.Context, url, dst string) (int64, error)
}

// Attribute group names, in concatenation order.
const (
	GroupOverview = "overview"
	GroupGenres   = "genres"
	GroupKeywords = "keywords"
	GroupCast     = "cast"
	GroupCrew     = "crew"
)

var validate = validator.New()

// record is one joined movies/credits row. Rows with any empty field are dropped.
type record struct {
	MovieID  string `validate:"required,number"`
	Title    string `validate:"required"`
	Overview string `validate:"required"`
	Genres   string `validate:"required"`
	Keywords string `validate:"required"`
	Cast     string `validate:"required"`
	Crew     string `validate:"required"`
}

// person is the subset of a TMDB JSON cell entry that the corpus uses
type person struct {
	Name  string `json:"name"`
	Job   string `json:"job"`
	Order *int   `json:"order"`
}

type Options struct {
	MoviesPath  string
	CreditsPath string
	MoviesURL   string
	CreditsURL  string
	CastLimit   int
	DirectorJob string
}

// Stats describes the last ingest
type Stats struct {
	Movies    int `json:"movies"`
	Credits   int `json:"credits"`
	Joined    int `json:"joined"`
	Dropped   int `json:"dropped"`
	Malformed int `json:"malformed"`
	Skipped   int `json:"skipped"`
}

// TMDBSource reads the tmdb_5000 movies and credits CSV files
type TMDBSource struct {
	opts       Options
	downloader Downloader
	logger     *logrus.Entry
	stats      Stats
}

// NewTMDBSource creates a source. downloader may be nil, in which case
// missing files are an error.
func NewTMDBSource(opts Options, downloader Downloader, logger *logrus.Entry) *TMDBSource {
	if opts.CastLimit <= 0 {
		opts.CastLimit = textproc.DefaultRankedLimit
	}
	if opts.DirectorJob == "" {
		opts.DirectorJob = "Director"
	}
	if logger == nil {
		logger = logrus.WithField("component", "tmdb_source")
	}
	return &TMDBSource{opts: opts, downloader: downloader, logger: logger}
}

// Stats returns the counters of the last Items call
func (s *TMDBSource) Stats() Stats {
	return s.stats
}

// Items joins movies and credits on title, drops incomplete rows and builds
// one item per remaining row in join order.
func (s *TMDBSource) Items(ctx context.Context) ([]catalog.Item, error) {
	if err := s.ensure(ctx, s.opts.MoviesPath, s.opts.MoviesURL); err != nil {
		return nil, err
	}
	if err := s.ensure(ctx, s.opts.CreditsPath, s.opts.CreditsURL); err != nil {
		return nil, err
	}

	movies, err := readTableFile(s.opts.MoviesPath, "title", "overview", "genres", "keywords")
	if err != nil {
		return nil, err
	}
	credits, err := readTableFile(s.opts.CreditsPath, "movie_id", "title", "cast", "crew")
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.stats = Stats{
		Movies:  len(movies.rows),
		Credits: len(credits.rows),
		Skipped: movies.skipped + credits.skipped,
	}
	records := join(movies, credits)
	s.stats.Joined = len(records)

	items := make([]catalog.Item, 0, len(records))
	for _, rec := range records {
		if err := validate.Struct(rec); err != nil {
			s.stats.Dropped++
			s.logger.WithField("title", rec.Title).Debug("Dropping incomplete row")
			continue
		}
		id, err := strconv.Atoi(rec.MovieID)
		if err != nil {
			s.stats.Dropped++
			s.logger.WithError(err).WithField("title", rec.Title).Warn("Dropping row with unusable movie_id")
			continue
		}
		items = append(items, s.item(id, rec))
	}

	s.logger.WithFields(logrus.Fields{
		"movies":    s.stats.Movies,
		"credits":   s.stats.Credits,
		"joined":    s.stats.Joined,
		"dropped":   s.stats.Dropped,
		"malformed": s.stats.Malformed,
		"skipped":   s.stats.Skipped,
		"items":     len(items),
	}).Info("Loaded TMDB dataset")
	return items, nil
}

func (s *TMDBSource) ensure(ctx context.Context, path, url string) error {
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if url == "" || s.downloader == nil {
		return fmt.Errorf("dataset file %s not found and no download configured", path)
	}
	s.logger.WithFields(logrus.Fields{"path": path, "url": url}).Info("Dataset file missing, downloading")
	if _, err := s.downloader.Download(ctx, url, path); err != nil {
		return fmt.Errorf("failed to download %s: %w", path, err)
	}
	return nil
}

// join is an inner join on title: for every movie in file order, every
// credits row with the same title in file order.
func join(movies, credits *table) []record {
	byTitle := make(map[string][]int, len(credits.rows))
	for i, row := range credits.rows {
		title := credits.get(row, "title")
		byTitle[title] = append(byTitle[title], i)
	}

	var out []record
	for _, m := range movies.rows {
		title := movies.get(m, "title")
		for _, ci := range byTitle[title] {
			c := credits.rows[ci]
			out = append(out, record{
				MovieID:  strings.TrimSpace(credits.get(c, "movie_id")),
				Title:    title,
				Overview: movies.get(m, "overview"),
				Genres:   movies.get(m, "genres"),
				Keywords: movies.get(m, "keywords"),
				Cast:     credits.get(c, "cast"),
				Crew:     credits.get(c, "crew"),
			})
		}
	}
	return out
}

func (s *TMDBSource) item(id int, rec record) catalog.Item {
	genres := s.people(id, GroupGenres, rec.Genres)
	keywords := s.people(id, GroupKeywords, rec.Keywords)
	cast := s.people(id, GroupCast, rec.Cast)
	crew := s.people(id, GroupCrew, rec.Crew)

	sortByBilling(cast)
	members := make([]catalog.Entity, len(crew))
	for i, p := range crew {
		members[i] = catalog.Entity{Name: p.Name, Role: p.Job}
	}

	return catalog.Item{
		ID:    id,
		Title: rec.Title,
		Groups: []catalog.AttributeGroup{
			catalog.FreeText(GroupOverview, rec.Overview),
			catalog.Labels(GroupGenres, names(genres)...),
			catalog.Labels(GroupKeywords, names(keywords)...),
			catalog.Ranked(GroupCast, s.opts.CastLimit, names(cast)...),
			catalog.Singleton(GroupCrew, s.opts.DirectorJob, members...),
		},
	}
}

// people decodes a JSON array cell. A malformed cell is recovered as an
// empty group.
func (s *TMDBSource) people(id int, group, cell string) []person {
	var out []person
	if err := json.Unmarshal([]byte(cell), &out); err != nil {
		s.stats.Malformed++
		verr := &textproc.InputValidationError{ItemID: id, Group: group, Reason: err.Error()}
		s.logger.WithError(verr).Warn("Treating malformed attribute as empty")
		return nil
	}
	return out
}

// sortByBilling orders cast by their "order" field. Entries without one keep
// their relative position after the billed ones.
func sortByBilling(cast []person) {
	billed := func(p person) bool { return p.Order != nil }
	sort.SliceStable(cast, func(i, j int) bool {
		a, b := cast[i], cast[j]
		if billed(a) != billed(b) {
			return billed(a)
		}
		return billed(a) && *a.Order < *b.Order
	})
}

func names(people []person) []string {
	out := make([]string, 0, len(people))
	for _, p := range people {
		out = append(out, p.Name)
	}
	return out
}
