package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mdeck/internal/apkg"
	"github.com/xxxsen/mdeck/internal/filestore"
	"github.com/xxxsen/mdeck/internal/metrics"
	"github.com/xxxsen/mdeck/internal/progress"
)

var mediaTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
	"webp": "image/webp",
	"bmp":  "image/bmp",
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"ogg":  "audio/ogg",
	"m4a":  "audio/mp4",
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mov":  "video/quicktime",
	"pdf":  "application/pdf",
}

// ContentTypeOf maps a file name to a MIME type by extension.
func ContentTypeOf(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if ct, ok := mediaTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

type MediaOptions struct {
	Feature     string
	Concurrency int
	CacheSize   int
	CacheTTL    time.Duration
}

type MediaResult struct {
	// URLs maps original media names to public URLs. Failed files are absent.
	URLs     map[string]string
	Found    int
	Uploaded int
	Reused   int
	Failed   int
}

// Processed counts files that ended with a public URL.
func (r *MediaResult) Processed() int {
	return len(r.URLs)
}

type MediaPipeline struct {
	store       filestore.Store
	feature     string
	concurrency int
	cache       *expirable.LRU[string, string]
	now         func() time.Time
}

func NewMediaPipeline(store filestore.Store, opts MediaOptions) *MediaPipeline {
	feature := strings.Trim(opts.Feature, "/")
	if feature == "" {
		feature = "flashcards"
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	size := opts.CacheSize
	if size <= 0 {
		size = 4096
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MediaPipeline{
		store:       store,
		feature:     feature,
		concurrency: concurrency,
		cache:       expirable.NewLRU[string, string](size, nil, ttl),
		now:         time.Now,
	}
}

func (m *MediaPipeline) objectKey(userID, name string) string {
	return path.Join(m.feature, userID, "media", name)
}

func mediaBaseName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

// Upload stores every media blob of a package in one bounded parallel batch.
// Individual failures are counted and never abort the batch.
func (m *MediaPipeline) Upload(ctx context.Context, userID string, files []apkg.MediaFile, rep Reporter, from, to int) *MediaResult {
	res := &MediaResult{URLs: make(map[string]string, len(files)), Found: len(files)}
	if len(files) == 0 {
		return res
	}
	rep.Step(fmt.Sprintf("Uploading %d media files", len(files)), progress.StatusProcessing, "", from)
	importedAt := m.now().UTC().Format(time.RFC3339)
	objects := make([]filestore.Object, 0, len(files))
	names := make([]string, 0, len(files))
	cacheKeys := make([]string, 0, len(files))
	for _, f := range files {
		base := mediaBaseName(f.Name)
		if base == "" {
			res.Failed++
			metrics.MediaUploadsTotal.WithLabelValues("failed").Inc()
			continue
		}
		key := m.objectKey(userID, base)
		sum := sha256.Sum256(f.Data)
		cacheKey := key + "#" + hex.EncodeToString(sum[:])
		if url, ok := m.cache.Get(cacheKey); ok {
			res.URLs[f.Name] = url
			res.Reused++
			metrics.MediaUploadsTotal.WithLabelValues("reused").Inc()
			continue
		}
		objects = append(objects, filestore.Object{
			Key:         key,
			Data:        f.Data,
			ContentType: ContentTypeOf(base),
			Metadata: map[string]string{
				"user_id":     userID,
				"source":      "anki-import",
				"imported_at": importedAt,
			},
		})
		names = append(names, f.Name)
		cacheKeys = append(cacheKeys, cacheKey)
	}
	results := filestore.BatchUpload(ctx, m.store, objects, m.concurrency)
	for i, r := range results {
		if r.Err != nil {
			res.Failed++
			metrics.MediaUploadsTotal.WithLabelValues("failed").Inc()
			logutil.GetLogger(ctx).Warn("upload media failed",
				zap.String("user_id", userID),
				zap.String("name", names[i]),
				zap.String("key", r.Key),
				zap.Error(r.Err),
			)
			continue
		}
		res.URLs[names[i]] = r.URL
		res.Uploaded++
		m.cache.Add(cacheKeys[i], r.URL)
		metrics.MediaUploadsTotal.WithLabelValues("uploaded").Inc()
	}
	status := progress.StatusProcessing
	details := ""
	if res.Failed > 0 {
		status = progress.StatusWarning
		details = fmt.Sprintf("%d media files failed", res.Failed)
	}
	rep.Step(fmt.Sprintf("Media: %d/%d files processed", res.Processed(), res.Found), status, details, to)
	return res
}

type rewriteRule struct {
	re   *regexp.Regexp
	repl string
}

type mediaRewriter struct {
	rules map[string][]rewriteRule
}

// newMediaRewriter compiles the reference patterns of every file once.
func newMediaRewriter(urls map[string]string) *mediaRewriter {
	w := &mediaRewriter{rules: make(map[string][]rewriteRule, len(urls))}
	for name, url := range urls {
		quoted := regexp.QuoteMeta(name)
		w.rules[name] = []rewriteRule{
			{
				re:   regexp.MustCompile(`src=["']` + quoted + `(?:\?[^"']*)?["']`),
				repl: `src="` + url + `"`,
			},
			{
				re:   regexp.MustCompile(`\[sound:` + quoted + `\]`),
				repl: `<audio controls src="` + url + `"></audio>`,
			},
		}
	}
	return w
}

func (w *mediaRewriter) rewrite(s string, refs []string) string {
	for _, ref := range refs {
		for _, rule := range w.rules[ref] {
			s = rule.re.ReplaceAllLiteralString(s, rule.repl)
		}
	}
	return s
}

// RewriteDecks replaces media references with public URLs. The input decks
// are left untouched; content hashes keep describing the source content.
func RewriteDecks(decks []NormalizedDeck, urls map[string]string) []NormalizedDeck {
	if len(urls) == 0 {
		return decks
	}
	w := newMediaRewriter(urls)
	out := make([]NormalizedDeck, len(decks))
	for i, d := range decks {
		cp := d
		cp.Cards = make([]NormalizedCard, len(d.Cards))
		for j, c := range d.Cards {
			if len(c.MediaRefs) > 0 {
				c.Front = w.rewrite(c.Front, c.MediaRefs)
				c.Back = w.rewrite(c.Back, c.MediaRefs)
			}
			cp.Cards[j] = c
		}
		out[i] = cp
	}
	return out
}
