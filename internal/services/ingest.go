package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"imagesearch/internal/metrics"
	"imagesearch/internal/models"
	"imagesearch/internal/storage"
	"imagesearch/internal/store"
)

// Recognised extensions. Matching is case-sensitive: "cat.JPG" is ignored.
var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
	".bmp":  {},
	".gif":  {},
}

// StaticImagePath is the route prefix image URLs are built from.
const StaticImagePath = "/static/image/"

func IsImageFile(name string) bool {
	_, ok := imageExtensions[filepath.Ext(name)]
	return ok
}

// SourceFile is one candidate for ingestion: the managed filename and the
// local file holding its bytes.
type SourceFile struct {
	Name string
	Path string
}

// IngestedHook runs after new images are committed.
type IngestedHook func(ctx context.Context, images []models.Image)

type PipelineConfig struct {
	// PublicBaseURL prefixes image URLs; empty yields relative URLs.
	PublicBaseURL string
	// MaxFiles caps new images per call; 0 means no cap.
	MaxFiles int
}

// Pipeline discovers new images, copies them into managed storage, embeds
// them and commits all new records in one transaction.
type Pipeline struct {
	store    store.Store
	files    storage.FileStore
	embedder Embedder
	metrics  metrics.Recorder
	cfg      PipelineConfig
	hooks    []IngestedHook
}

func NewPipeline(s store.Store, files storage.FileStore, emb Embedder, rec metrics.Recorder, cfg PipelineConfig) *Pipeline {
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Pipeline{store: s, files: files, embedder: emb, metrics: rec, cfg: cfg}
}

// OnIngested registers h. Hooks are not safe to add concurrently with
// ingestion; register them during setup.
func (p *Pipeline) OnIngested(h IngestedHook) {
	p.hooks = append(p.hooks, h)
}

// ImageURL returns the public URL for a managed filename.
func (p *Pipeline) ImageURL(name string) string {
	return strings.TrimSuffix(p.cfg.PublicBaseURL, "/") + StaticImagePath + url.PathEscape(name)
}

// IngestFolder ingests every recognised image directly inside folder, in
// filename order. Images whose filename is already known are skipped, so
// repeated runs are idempotent. The result holds only new records and is
// empty when nothing was new.
func (p *Pipeline) IngestFolder(ctx context.Context, folder string) ([]models.Image, error) {
	sources, err := scanFolder(folder)
	if err != nil {
		return nil, err
	}
	return p.ingest(ctx, sources)
}

// IngestFiles ingests explicitly named files, e.g. uploads staged in a
// temporary directory. Later duplicates of a name are ignored.
func (p *Pipeline) IngestFiles(ctx context.Context, files []SourceFile) ([]models.Image, error) {
	seen := make(map[string]struct{}, len(files))
	sources := make([]SourceFile, 0, len(files))
	for _, f := range files {
		if err := storage.ValidateName(f.Name); err != nil {
			return nil, invalidArgf("filename %q", f.Name)
		}
		if !IsImageFile(f.Name) {
			return nil, invalidArgf("unsupported file type %q", f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			continue
		}
		seen[f.Name] = struct{}{}
		sources = append(sources, f)
	}
	if len(sources) == 0 {
		return nil, ErrNoImagesFound
	}
	return p.ingest(ctx, sources)
}

func scanFolder(folder string) ([]SourceFile, error) {
	info, err := os.Stat(folder)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, folder)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", folder, err)
	}

	// ReadDir returns entries sorted by filename.
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", folder, err)
	}
	var sources []SourceFile
	for _, entry := range entries {
		if !IsImageFile(entry.Name()) || storage.ValidateName(entry.Name()) != nil {
			continue
		}
		path := filepath.Join(folder, entry.Name())
		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		sources = append(sources, SourceFile{Name: entry.Name(), Path: path})
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImagesFound, folder)
	}
	return sources, nil
}

func (p *Pipeline) ingest(ctx context.Context, sources []SourceFile) (added []models.Image, err error) {
	defer func() { p.metrics.ObserveIngestion(len(added), err) }()

	fresh, err := p.newSources(ctx, sources)
	if err != nil {
		return nil, err
	}
	if len(fresh) == 0 {
		slog.InfoContext(ctx, "ingestion found nothing new", "candidates", len(sources))
		return []models.Image{}, nil
	}

	log := slog.With("run_id", uuid.NewString())
	log.InfoContext(ctx, "ingestion started", "candidates", len(sources), "new", len(fresh))

	written, err := p.copyToStorage(ctx, fresh)
	if err != nil {
		p.cleanup(ctx, log, written)
		return nil, err
	}

	paths := make([]string, len(fresh))
	for i, src := range fresh {
		paths[i] = src.Path
	}
	vecs, err := p.embedder.EmbedImages(ctx, paths)
	if err != nil {
		p.cleanup(ctx, log, written)
		return nil, fmt.Errorf("embed images: %w", err)
	}
	if len(vecs) != len(fresh) {
		p.cleanup(ctx, log, written)
		return nil, fmt.Errorf("embedder returned %d vectors for %d images", len(vecs), len(fresh))
	}

	records := make([]models.NewImage, len(fresh))
	for i, src := range fresh {
		records[i] = models.NewImage{
			Filename:    src.Name,
			StoragePath: p.files.Location(src.Name),
			URL:         p.ImageURL(src.Name),
			Embedding:   vecs[i],
		}
	}

	added, err = p.store.InsertImages(ctx, records)
	if err != nil {
		// On a duplicate another ingestion owns the record and possibly
		// the bytes we overwrote, so they stay.
		if !errors.Is(err, store.ErrDuplicateFilename) {
			p.cleanup(ctx, log, written)
		}
		return nil, err
	}

	log.InfoContext(ctx, "ingestion complete", "added", len(added))
	for _, h := range p.hooks {
		h(ctx, added)
	}
	return added, nil
}

func (p *Pipeline) newSources(ctx context.Context, sources []SourceFile) ([]SourceFile, error) {
	names := make([]string, len(sources))
	for i, src := range sources {
		names[i] = src.Name
	}
	existing, err := p.store.ExistingFilenames(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("check existing: %w", err)
	}

	fresh := make([]SourceFile, 0, len(sources))
	for _, src := range sources {
		if _, ok := existing[src.Name]; !ok {
			fresh = append(fresh, src)
		}
	}
	if p.cfg.MaxFiles > 0 && len(fresh) > p.cfg.MaxFiles {
		fresh = fresh[:p.cfg.MaxFiles]
	}
	return fresh, nil
}

// copyToStorage returns the names it wrote so a failed run can remove
// them. A source that already is the managed file is not copied.
func (p *Pipeline) copyToStorage(ctx context.Context, sources []SourceFile) ([]string, error) {
	var written []string
	for _, src := range sources {
		if p.isManagedFile(src) {
			continue
		}
		if err := p.copyFile(ctx, src); err != nil {
			return written, err
		}
		written = append(written, src.Name)
	}
	return written, nil
}

func (p *Pipeline) copyFile(ctx context.Context, src SourceFile) error {
	f, err := os.Open(src.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", src.Path, err)
	}
	defer f.Close()
	if err := p.files.Save(ctx, src.Name, f); err != nil {
		return fmt.Errorf("copy %s: %w", src.Name, err)
	}
	return nil
}

func (p *Pipeline) isManagedFile(src SourceFile) bool {
	local, ok := p.files.(*storage.Local)
	if !ok {
		return false
	}
	dst, err := local.Path(src.Name)
	if err != nil {
		return false
	}
	a, errA := os.Stat(src.Path)
	b, errB := os.Stat(dst)
	return errA == nil && errB == nil && os.SameFile(a, b)
}

func (p *Pipeline) cleanup(ctx context.Context, log *slog.Logger, names []string) {
	for _, name := range names {
		if err := p.files.Delete(ctx, name); err != nil {
			log.WarnContext(ctx, "failed to remove copied image", "filename", name, "error", err)
		}
	}
}
