package service

import (
	"context"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/publome/publishing-api/internal/models"
	"github.com/publome/publishing-api/internal/repository"
)

// Objects under these prefixes are never deletion candidates, whatever their
// age or reference state.
var protectedPrefixes = []string{
	"static-assets/",
	"avatars/",
}

// Platforms that fetch media from our bucket after publish. Their files must
// stay reachable, so any post targeting one exempts its media from deletion.
var exemptPlatforms = []string{
	models.PlatformTiktok,
}

// ObjectStore is the slice of the R2 client the reconciler needs.
type ObjectStore interface {
	ListObjects(ctx context.Context) ([]StoredObject, error)
	DeleteObject(ctx context.Context, key string) error
	PublicURL(key string) string
}

// CleanupReport carries the audit counts for one reconciler run.
type CleanupReport struct {
	DryRun         bool     `json:"dry_run"`
	Scanned        int      `json:"scanned"`
	Protected      int      `json:"protected"`
	Eligible       int      `json:"eligible"`
	Referenced     int      `json:"referenced"`
	Exempted       int      `json:"exempted"`
	Orphaned       int      `json:"orphaned"`
	Deleted        int      `json:"deleted"`
	DeleteFailures int      `json:"delete_failures"`
	OrphanKeys     []string `json:"orphan_keys"`
}

type MediaCleanupService struct {
	store ObjectStore
	ma    repository.MediaAssetRepository
}

func NewMediaCleanupService(store ObjectStore, ma repository.MediaAssetRepository) *MediaCleanupService {
	return &MediaCleanupService{store: store, ma: ma}
}

// NormalizeMediaURL canonicalizes a media URL so trivial string variance
// (case, duplicated separators, trailing slash, padding) cannot make a
// referenced object look unreferenced.
func NormalizeMediaURL(raw string) string {
	u := strings.ToLower(strings.TrimSpace(raw))

	scheme := ""
	if i := strings.Index(u, "://"); i >= 0 {
		scheme, u = u[:i+3], u[i+3:]
	}
	for strings.Contains(u, "//") {
		u = strings.ReplaceAll(u, "//", "/")
	}
	u = strings.TrimRight(u, "/")

	return scheme + u
}

func isProtected(key string) bool {
	for _, prefix := range protectedPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func (s *MediaCleanupService) referencedURLs(ctx context.Context) (map[string]struct{}, error) {
	postURLs, err := s.ma.ListPostMediaURLs(ctx)
	if err != nil {
		return nil, err
	}
	draftURLs, err := s.ma.ListDraftMediaURLs(ctx)
	if err != nil {
		return nil, err
	}

	referenced := make(map[string]struct{}, len(postURLs)+len(draftURLs))
	for _, u := range postURLs {
		referenced[NormalizeMediaURL(u)] = struct{}{}
	}
	for _, u := range draftURLs {
		referenced[NormalizeMediaURL(u)] = struct{}{}
	}
	return referenced, nil
}

func (s *MediaCleanupService) exemptedURLs(ctx context.Context) (map[string]struct{}, error) {
	exempted := make(map[string]struct{})
	for _, platform := range exemptPlatforms {
		urls, err := s.ma.ListURLsByPlatform(ctx, platform)
		if err != nil {
			return nil, err
		}
		for _, u := range urls {
			exempted[NormalizeMediaURL(u)] = struct{}{}
		}
	}
	return exempted, nil
}

// Reconcile sweeps the bucket and deletes aged objects no post or draft still
// references. Individual delete failures are logged and the sweep continues.
func (s *MediaCleanupService) Reconcile(ctx context.Context, cutoffAge time.Duration, dryRun bool) (*CleanupReport, error) {
	objects, err := s.store.ListObjects(ctx)
	if err != nil {
		return nil, err
	}

	referenced, err := s.referencedURLs(ctx)
	if err != nil {
		return nil, err
	}

	exempted, err := s.exemptedURLs(ctx)
	if err != nil {
		return nil, err
	}

	report := &CleanupReport{DryRun: dryRun}
	cutoff := time.Now().Add(-cutoffAge)

	for _, obj := range objects {
		report.Scanned++

		if isProtected(obj.Key) {
			report.Protected++
			continue
		}
		if obj.LastModified.After(cutoff) {
			continue
		}
		report.Eligible++

		objURL := NormalizeMediaURL(s.store.PublicURL(obj.Key))
		if _, ok := exempted[objURL]; ok {
			report.Exempted++
			continue
		}
		if _, ok := referenced[objURL]; ok {
			report.Referenced++
			continue
		}

		report.Orphaned++
		report.OrphanKeys = append(report.OrphanKeys, obj.Key)

		if dryRun {
			continue
		}

		if err := s.store.DeleteObject(ctx, obj.Key); err != nil {
			slog.Info(err.Error())
			report.DeleteFailures++
			continue
		}
		report.Deleted++
	}

	log.Printf("Media cleanup finished: scanned=%d protected=%d eligible=%d referenced=%d exempted=%d orphaned=%d deleted=%d failures=%d dryRun=%v",
		report.Scanned, report.Protected, report.Eligible, report.Referenced,
		report.Exempted, report.Orphaned, report.Deleted, report.DeleteFailures, dryRun)

	return report, nil
}
