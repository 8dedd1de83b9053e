// Package history ingests git history into the corpus: per-file churn stats
// for the recency and hotspot signals, and co-change pairs that become
// co_changed edges with Measured confidence. History is an enrichment, never
// a requirement: a missing repository yields an empty summary and the engine
// indexes without it.
package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sort"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/adalundhe/loupe/core/confidence"
	"github.com/adalundhe/loupe/core/corpus"
)

// ErrNotGitRepo reports that the analyzed path holds no git repository.
var ErrNotGitRepo = errors.New("path is not a git repository")

// Defaults.
const (
	// DefaultMaxCommits bounds the walked log; old history stops informing
	// churn well before this on active repos.
	DefaultMaxCommits = 500

	// DefaultWindow limits the walk to recent history.
	DefaultWindow = 180 * 24 * time.Hour

	// DefaultMaxFilesPerCommit skips bulk commits (mass renames, vendoring,
	// formatting sweeps) whose co-change pairs are noise.
	DefaultMaxFilesPerCommit = 20

	// DefaultMinPairCount is the co-change evidence floor below which no
	// edge is emitted.
	DefaultMinPairCount = 2
)

// Options tunes the log walk. Zero values fall back to the defaults.
type Options struct {
	MaxCommits        int
	Window            time.Duration
	MaxFilesPerCommit int
	MinPairCount      int
}

func (o Options) withDefaults() Options {
	if o.MaxCommits <= 0 {
		o.MaxCommits = DefaultMaxCommits
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.MaxFilesPerCommit <= 0 {
		o.MaxFilesPerCommit = DefaultMaxFilesPerCommit
	}
	if o.MinPairCount <= 0 {
		o.MinPairCount = DefaultMinPairCount
	}
	return o
}

// pairKey identifies an unordered co-change pair; A sorts before B.
type pairKey struct {
	A, B string
}

// Summary is the distilled history of one repository walk.
type Summary struct {
	// FileChurn maps repo-relative path to accumulated churn.
	FileChurn map[string]corpus.ChurnStats

	// pairCounts maps unordered file pairs to commits touching both.
	pairCounts map[pairKey]int

	// CommitsWalked counts commits that contributed to the summary.
	CommitsWalked int
}

// HasData reports whether the walk found any usable history.
func (s *Summary) HasData() bool {
	return s != nil && len(s.FileChurn) > 0
}

// Churn returns the churn stats for a path, zero when unknown.
func (s *Summary) Churn(path string) corpus.ChurnStats {
	if s == nil {
		return corpus.ChurnStats{}
	}
	return s.FileChurn[path]
}

// Analyzer walks a repository's log. One Analyzer per repo path; walks are
// read-only and safe to repeat.
type Analyzer struct {
	path   string
	opts   Options
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer for the repository at path.
func NewAnalyzer(path string, opts Options, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{path: path, opts: opts.withDefaults(), logger: logger}
}

// Analyze walks the log and accumulates churn and co-change counts. A path
// that is not a repository returns ErrNotGitRepo; callers treat that as "no
// history", not a failure.
func (a *Analyzer) Analyze(ctx context.Context) (*Summary, error) {
	repo, err := gogit.PlainOpenWithOptions(a.path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, ErrNotGitRepo
		}
		return nil, err
	}

	since := time.Now().Add(-a.opts.Window)
	iter, err := repo.Log(&gogit.LogOptions{Since: &since})
	if err != nil {
		// An empty repository has no HEAD to log from.
		return &Summary{FileChurn: map[string]corpus.ChurnStats{}, pairCounts: map[pairKey]int{}}, nil
	}
	defer iter.Close()

	summary := &Summary{
		FileChurn:  make(map[string]corpus.ChurnStats),
		pairCounts: make(map[pairKey]int),
	}

	err = iter.ForEach(func(commit *object.Commit) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if summary.CommitsWalked >= a.opts.MaxCommits {
			return io.EOF
		}
		a.accumulate(summary, commit)
		return nil
	})
	if err != nil && err != io.EOF {
		return nil, err
	}

	a.logger.Info("git history analyzed",
		"path", a.path,
		"commits", summary.CommitsWalked,
		"files", len(summary.FileChurn),
		"pairs", len(summary.pairCounts))
	return summary, nil
}

// accumulate folds one commit into the summary.
func (a *Analyzer) accumulate(summary *Summary, commit *object.Commit) {
	stats, err := commit.Stats()
	if err != nil {
		return
	}
	summary.CommitsWalked++

	paths := make([]string, 0, len(stats))
	for _, stat := range stats {
		churn := summary.FileChurn[stat.Name]
		churn.CommitCount++
		churn.LinesChanged += stat.Addition + stat.Deletion
		if commit.Author.When.After(churn.LastModified) {
			churn.LastModified = commit.Author.When
		}
		summary.FileChurn[stat.Name] = churn
		paths = append(paths, stat.Name)
	}

	// Bulk commits still count toward churn above, but their pairings are
	// coincidence, not coupling.
	if len(paths) < 2 || len(paths) > a.opts.MaxFilesPerCommit {
		return
	}
	sort.Strings(paths)
	for i := 0; i < len(paths); i++ {
		for j := i + 1; j < len(paths); j++ {
			summary.pairCounts[pairKey{A: paths[i], B: paths[j]}]++
		}
	}
}

// Enrich writes churn stats onto every entity whose path the summary knows.
// Returns the number of entities enriched.
func Enrich(entities []*corpus.Entity, summary *Summary) int {
	if !summary.HasData() {
		return 0
	}
	enriched := 0
	for _, e := range entities {
		churn, ok := summary.FileChurn[e.Path]
		if !ok {
			continue
		}
		// Complexity comes from the extractor, not history; keep it.
		complexity := e.Churn.Complexity
		e.Churn = churn
		e.Churn.Complexity = complexity
		enriched++
	}
	return enriched
}

// CoChangeEdges converts the summary's pair counts into co_changed edges
// between entities living at the paired paths. Edge confidence is Measured:
// the support ratio over the pair's weaker side, with the pair count as the
// sample size. Pairs below the evidence floor emit nothing.
func CoChangeEdges(summary *Summary, entitiesByPath map[string][]string, opts Options) []*corpus.Edge {
	if !summary.HasData() {
		return nil
	}
	opts = opts.withDefaults()
	now := time.Now().UTC()

	var edges []*corpus.Edge
	for pair, count := range summary.pairCounts {
		if count < opts.MinPairCount {
			continue
		}
		sourceIDs := entitiesByPath[pair.A]
		targetIDs := entitiesByPath[pair.B]
		if len(sourceIDs) == 0 || len(targetIDs) == 0 {
			continue
		}

		weaker := summary.FileChurn[pair.A].CommitCount
		if b := summary.FileChurn[pair.B].CommitCount; b < weaker {
			weaker = b
		}
		support := 1.0
		if weaker > 0 {
			support = float64(count) / float64(weaker)
		}
		if support > 1 {
			support = 1
		}

		// Crude 1/sqrt(n) interval: enough to keep wide-sample pairs
		// distinguishable from two-commit coincidences downstream.
		halfWidth := 1 / math.Sqrt(float64(count))
		conf := confidence.Measured(support, count, support-halfWidth, support+halfWidth, "git_log")
		for _, src := range sourceIDs {
			for _, dst := range targetIDs {
				edges = append(edges, &corpus.Edge{
					SourceID:   src,
					TargetID:   dst,
					Type:       corpus.EdgeCoChanged,
					Weight:     support,
					Confidence: conf,
					ComputedAt: now,
				})
			}
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].SourceID != edges[j].SourceID {
			return edges[i].SourceID < edges[j].SourceID
		}
		return edges[i].TargetID < edges[j].TargetID
	})
	return edges
}
