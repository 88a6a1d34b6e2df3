// Package orphan finds references whose blob or target row is gone and,
// when asked to, removes them.
package orphan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/mediaref/pkg/mediaref"
	"github.com/tendant/mediaref/pkg/mediaref/graph"
	"github.com/tendant/mediaref/pkg/mediaref/metrics"
	"github.com/tendant/mediaref/pkg/mediaref/scan"
)

// Mode selects which sub-scans run.
type Mode string

// Scan modes.
const (
	// ModeMedia checks canonical media rows and join rows.
	ModeMedia Mode = "media"
	// ModeArtifacts checks every URL embedded in artifact rows.
	ModeArtifacts Mode = "artifacts"
	// ModeAll runs both.
	ModeAll Mode = "all"
)

// Defaults for ScanOptions.
const (
	DefaultPreviewSize  = 10
	DefaultConfirmDelay = 5 * time.Second
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeMedia, ModeArtifacts, ModeAll:
		return Mode(s), nil
	case "":
		return ModeAll, nil
	}
	return "", fmt.Errorf("unknown orphan scan mode %q", s)
}

// ScanOptions configures a scan.
type ScanOptions struct {
	Mode Mode

	// Delete enables destructive mode. Without it the scan never writes.
	Delete bool

	BatchSize int

	// Limit caps broken media rows and affected artifacts, 0 means no cap
	Limit int

	// PreviewSize bounds Report.Preview (default 10, negative disables)
	PreviewSize int

	// ConfirmDelay is waited before any destructive write (default 5s, negative disables)
	ConfirmDelay time.Duration

	// OnProgress is called once per checked row or artifact (optional)
	OnProgress func(stage string, checked int)
}

// Report summarizes a scan.
type Report struct {
	Mode   Mode `json:"mode"`
	DryRun bool `json:"dry_run"`

	MediaScanned  int `json:"media_scanned"`
	BrokenMedia   int `json:"broken_media"`
	DanglingLinks int `json:"dangling_links"`
	LinksToBroken int `json:"links_to_broken_media"`

	ArtifactsScanned  int `json:"artifacts_scanned"`
	ArtifactsAffected int `json:"artifacts_affected"`
	DeadURLs          int `json:"dead_urls"`

	// Skipped counts URLs of unknown backends, which are never probed
	Skipped     int                 `json:"skipped"`
	Probes      int                 `json:"probes"`
	ProbeErrors []mediaref.URLError `json:"probe_errors,omitempty"`

	Preview []string `json:"preview,omitempty"`

	DeletedLinks       int      `json:"deleted_links"`
	DeletedMedia       int      `json:"deleted_media"`
	RewrittenArtifacts int      `json:"rewritten_artifacts"`
	FailedArtifacts    []string `json:"failed_artifacts,omitempty"`

	previewSize int
}

// Found reports whether anything was flagged.
func (r *Report) Found() bool {
	return r.BrokenMedia+r.DanglingLinks+r.ArtifactsAffected > 0
}

func (r *Report) preview(format string, args ...any) {
	if r.previewSize >= 0 && len(r.Preview) < r.previewSize {
		r.Preview = append(r.Preview, fmt.Sprintf(format, args...))
	}
}

type deadArtifact struct {
	id   uuid.UUID
	dead map[string]bool
}

// Scanner runs orphan scans.
type Scanner struct {
	repo       mediaref.Repository
	prober     mediaref.Prober
	classifier mediaref.Classifier
	scanner    *scan.Scanner
	logger     *slog.Logger
	wait       func(ctx context.Context, d time.Duration) error
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Scanner.
func New(repo mediaref.Repository, prober mediaref.Prober, classifier mediaref.Classifier, opts ...Option) *Scanner {
	s := &Scanner{
		repo:       repo,
		prober:     prober,
		classifier: classifier,
		logger:     slog.Default(),
		wait:       sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.scanner = scan.New(repo, s.logger)
	return s
}

// Scan runs the selected sub-scans with a fresh liveness cache. In dry-run
// mode it only reads. In destructive mode it waits ConfirmDelay, then deletes
// dangling links and links to broken media, then broken media rows, then
// drops dead URLs from artifacts.
func (s *Scanner) Scan(ctx context.Context, opts ScanOptions) (*Report, error) {
	if opts.Mode == "" {
		opts.Mode = ModeAll
	}
	if opts.PreviewSize == 0 {
		opts.PreviewSize = DefaultPreviewSize
	}
	if opts.ConfirmDelay == 0 {
		opts.ConfirmDelay = DefaultConfirmDelay
	}

	session := NewSession(s.prober)
	report := &Report{Mode: opts.Mode, DryRun: !opts.Delete, previewSize: opts.PreviewSize}
	defer func() { report.Probes = session.Probes() }()

	var broken []*mediaref.CanonicalMedia
	var danglingIDs, brokenLinkIDs []uuid.UUID
	var artifacts []deadArtifact

	if opts.Mode == ModeMedia || opts.Mode == ModeAll {
		var err error
		broken, err = s.scanMedia(ctx, session, opts, report)
		if err != nil {
			return report, err
		}

		dangling, err := s.repo.ListDanglingLinks(ctx)
		if err != nil {
			return report, fmt.Errorf("list dangling links: %w", err)
		}
		report.DanglingLinks = len(dangling)
		for _, l := range dangling {
			danglingIDs = append(danglingIDs, l.ID)
			report.preview("link %s: artifact %s -> missing media %s", l.ID, l.ArtifactID, l.MediaID)
		}

		if len(broken) > 0 {
			ids := make([]uuid.UUID, 0, len(broken))
			for _, m := range broken {
				ids = append(ids, m.ID)
			}
			links, err := s.repo.ListLinksByMedia(ctx, ids)
			if err != nil {
				return report, fmt.Errorf("list links of broken media: %w", err)
			}
			report.LinksToBroken = len(links)
			for _, l := range links {
				brokenLinkIDs = append(brokenLinkIDs, l.ID)
			}
		}
	}

	if opts.Mode == ModeArtifacts || opts.Mode == ModeAll {
		var err error
		artifacts, err = s.scanArtifacts(ctx, session, opts, report)
		if err != nil {
			return report, err
		}
	}

	s.logger.Info("orphan scan finished",
		"mode", opts.Mode,
		"dry_run", report.DryRun,
		"media_scanned", report.MediaScanned,
		"broken_media", report.BrokenMedia,
		"dangling_links", report.DanglingLinks,
		"artifacts_affected", report.ArtifactsAffected,
		"dead_urls", report.DeadURLs,
		"probe_errors", len(report.ProbeErrors))

	if !opts.Delete || !report.Found() {
		return report, nil
	}

	if opts.ConfirmDelay > 0 {
		s.logger.Warn("deleting orphans", "delay", opts.ConfirmDelay)
		if err := s.wait(ctx, opts.ConfirmDelay); err != nil {
			return report, err
		}
	}

	if linkIDs := append(danglingIDs, brokenLinkIDs...); len(linkIDs) > 0 {
		if err := s.repo.DeleteLinks(ctx, linkIDs); err != nil {
			return report, fmt.Errorf("delete links: %w", err)
		}
		report.DeletedLinks = len(linkIDs)
		metrics.OrphansDeletedTotal.WithLabelValues("link").Add(float64(len(linkIDs)))
	}

	if len(broken) > 0 {
		ids := make([]uuid.UUID, 0, len(broken))
		for _, m := range broken {
			ids = append(ids, m.ID)
		}
		if err := s.repo.DeleteMedia(ctx, ids); err != nil {
			return report, fmt.Errorf("delete media: %w", err)
		}
		report.DeletedMedia = len(ids)
		metrics.OrphansDeletedTotal.WithLabelValues("media").Add(float64(len(ids)))
	}

	for _, da := range artifacts {
		if err := s.dropDeadURLs(ctx, da); err != nil {
			report.FailedArtifacts = append(report.FailedArtifacts, da.id.String())
			s.logger.Error("failed to drop dead urls", "artifact_id", da.id, "err", err)
			continue
		}
		report.RewrittenArtifacts++
		metrics.OrphansDeletedTotal.WithLabelValues("artifact_url").Add(float64(len(da.dead)))
	}

	return report, nil
}

func (s *Scanner) scanMedia(ctx context.Context, session *Session, opts ScanOptions, report *Report) ([]*mediaref.CanonicalMedia, error) {
	var broken []*mediaref.CanonicalMedia
	errLimit := errors.New("limit reached")

	err := s.scanner.ForEachMedia(ctx, mediaref.MediaFilter{}, opts.BatchSize, func(ctx context.Context, m *mediaref.CanonicalMedia) error {
		report.MediaScanned++
		if opts.OnProgress != nil {
			opts.OnProgress("media", report.MediaScanned)
		}

		alive, ok := s.check(ctx, session, m.PublicURL, report)
		if !ok || alive {
			return nil
		}

		broken = append(broken, m)
		report.BrokenMedia++
		report.preview("media %s: %s", m.ID, m.PublicURL)
		if opts.Limit > 0 && len(broken) >= opts.Limit {
			return errLimit
		}
		return nil
	})
	if err != nil && !errors.Is(err, errLimit) {
		return nil, err
	}
	return broken, nil
}

func (s *Scanner) scanArtifacts(ctx context.Context, session *Session, opts ScanOptions, report *Report) ([]deadArtifact, error) {
	var found []deadArtifact

	match := func(a *mediaref.Artifact) bool {
		report.ArtifactsScanned++
		if opts.OnProgress != nil {
			opts.OnProgress("artifacts", report.ArtifactsScanned)
		}

		dead := map[string]bool{}
		for _, u := range graph.FromArtifact(a).URLs() {
			alive, ok := s.check(ctx, session, u, report)
			if ok && !alive {
				dead[u] = true
				report.preview("artifact %s: %s", a.ID, u)
			}
		}
		if len(dead) == 0 {
			return false
		}
		report.ArtifactsAffected++
		report.DeadURLs += len(dead)
		found = append(found, deadArtifact{id: a.ID, dead: dead})
		return true
	}

	if _, err := s.scanner.Collect(ctx, mediaref.ArtifactFilter{}, match, opts.BatchSize, opts.Limit); err != nil {
		return nil, err
	}
	return found, nil
}

// check probes url. ok is false when the URL was skipped or the probe failed;
// neither case ever leads to deletion.
func (s *Scanner) check(ctx context.Context, session *Session, url string, report *Report) (alive, ok bool) {
	if s.classifier.Classify(url).Backend == mediaref.BackendUnknown {
		report.Skipped++
		return false, false
	}
	alive, err := session.Exists(ctx, url)
	if err != nil {
		report.ProbeErrors = append(report.ProbeErrors, mediaref.URLError{URL: url, Op: "probe", Err: err})
		s.logger.Warn("liveness probe failed", "url", url, "err", err)
		return false, false
	}
	return alive, true
}

// dropDeadURLs re-reads the artifact so writes made since the scan survive.
func (s *Scanner) dropDeadURLs(ctx context.Context, da deadArtifact) error {
	artifact, err := s.repo.GetArtifact(ctx, da.id)
	if err != nil {
		return err
	}
	pruned := graph.FromArtifact(artifact).Remove(da.dead)
	pruned.ApplyTo(artifact)
	return s.repo.UpdateArtifactMedia(ctx, artifact)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
