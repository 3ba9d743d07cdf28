package httpengine

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/aofei/mimesniffer"
	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
)

// FileCache is an in-memory cache of static asset bytes keyed by content
// hash, invalidated on filesystem change notifications. It is the general
// static-file analogue of the teacher's bundled-asset "coffer": where the
// teacher cached only assets it minified/gzipped for its own templating
// pipeline, this cache serves arbitrary files requested through SendFile.
type FileCache struct {
	once    sync.Once
	maxMem  int
	cache   *fastcache.Cache
	assets  sync.Map // absolute path -> *cachedAsset
	watcher *fsnotify.Watcher
	onError func(error)
}

type cachedAsset struct {
	path     string
	modTime  time.Time
	size     int64
	mimeType string
	checksum [8]byte
}

// NewFileCache returns a FileCache backed by at most maxMemoryBytes of
// cached content, watching files for changes via fsnotify as they're
// served.
func NewFileCache(maxMemoryBytes int) (*FileCache, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("httpengine: failed to build file cache watcher: %w", err)
	}
	fc := &FileCache{maxMem: maxMemoryBytes, watcher: watcher}
	go fc.watch()
	return fc, nil
}

func (fc *FileCache) watch() {
	for {
		select {
		case e, ok := <-fc.watcher.Events:
			if !ok {
				return
			}
			if v, ok := fc.assets.Load(e.Name); ok {
				a := v.(*cachedAsset)
				fc.assets.Delete(a.path)
				fc.cache.Del(a.checksum[:])
			}
		case err, ok := <-fc.watcher.Errors:
			if !ok {
				return
			}
			if fc.onError != nil {
				fc.onError(err)
			}
		}
	}
}

// load returns the cached bytes for the absolute path p, reading and
// caching it if this is the first request for it.
func (fc *FileCache) load(p string) ([]byte, *cachedAsset, error) {
	fc.once.Do(func() {
		max := fc.maxMem
		if max <= 0 {
			max = 64 << 20
		}
		fc.cache = fastcache.New(max)
	})

	if v, ok := fc.assets.Load(p); ok {
		a := v.(*cachedAsset)
		if b := fc.cache.Get(nil, a.checksum[:]); len(b) > 0 {
			return b, a, nil
		}
		fc.assets.Delete(p)
	}

	fi, err := os.Stat(p)
	if err != nil {
		return nil, nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, nil, err
	}

	sum := xxhash.Sum64(b)
	var checksum [8]byte
	for i := 0; i < 8; i++ {
		checksum[i] = byte(sum >> (8 * i))
	}

	ext := filepath.Ext(p)
	mt := mime.TypeByExtension(ext)
	if mt == "" {
		mt = mimesniffer.Sniff(b)
	}

	a := &cachedAsset{path: p, modTime: fi.ModTime(), size: fi.Size(), mimeType: mt, checksum: checksum}
	fc.cache.Set(checksum[:], b)
	fc.assets.Store(p, a)
	_ = fc.watcher.Add(p)

	return b, a, nil
}

// FileSenderOptions configures RequestState.SendFile.
type FileSenderOptions struct {
	// Root is the directory requests are resolved relative to.
	Root string
	// RelativePath is the request-relative file path, typically derived
	// from a route's catch-all capture.
	RelativePath string
	// Offset/Length optionally restrict the response to a byte range of
	// the file, independent of any client Range header.
	Offset, Length int64

	OnNotFound  func(rs *RequestState) (StreamEnded, error)
	OnDirectory func(rs *RequestState) (StreamEnded, error)

	AcceptRanges bool
	CacheControl string
	Immutable    bool
	MaxAgeSecs   int
	LastModified bool
	ETag         bool

	Cache *FileCache
}

// SendFile resolves opts.RelativePath safely under opts.Root and serves it
// with range and conditional-GET semantics, per SPEC_FULL §4.3/§4.8.
// Path traversal is refused, dotfiles are refused, a resolved directory
// defers to OnDirectory (or renders 404 with x-reason), and a missing file
// defers to OnNotFound (or renders a plain 404).
func (rs *RequestState) SendFile(opts FileSenderOptions) (StreamEnded, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return StreamEnded{}, InternalServerError(err)
	}

	cleaned := filepath.Clean("/" + opts.RelativePath)
	for _, part := range strings.Split(cleaned, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") && part != "" {
			return notFoundOrHook(rs, opts)
		}
	}

	full := filepath.Join(root, cleaned)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return notFoundOrHook(rs, opts)
	}

	info, err := os.Stat(full)
	if os.IsNotExist(err) {
		return notFoundOrHook(rs, opts)
	}
	if err != nil {
		return StreamEnded{}, InternalServerError(err)
	}

	if info.IsDir() {
		if opts.OnDirectory != nil {
			return opts.OnDirectory(rs)
		}
		headers := NewHeaders()
		headers.Set("x-reason", "Directory listing not allowed")
		return rs.SendEmpty(http.StatusNotFound, headers)
	}

	var (
		content []byte
		asset   *cachedAsset
	)
	if opts.Cache != nil {
		content, asset, err = opts.Cache.load(full)
	} else {
		content, err = os.ReadFile(full)
		if err == nil {
			asset = &cachedAsset{path: full, modTime: info.ModTime(), size: info.Size()}
		}
	}
	if err != nil {
		return StreamEnded{}, InternalServerError(err)
	}

	mimeType := asset.mimeType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(full))
	}
	if mimeType == "" {
		mimeType = mimesniffer.Sniff(content)
	}

	etag := fmt.Sprintf(`"%x-%x"`, asset.modTime.Unix(), len(content))

	headers := NewHeaders()
	if mimeType != "" {
		headers.Set("content-type", mimeType)
	}
	if opts.AcceptRanges {
		headers.Set("accept-ranges", "bytes")
	}
	if opts.ETag {
		headers.Set("etag", etag)
	}
	if opts.LastModified {
		headers.Set("last-modified", asset.modTime.UTC().Format(http.TimeFormat))
	}
	cacheControl := opts.CacheControl
	if cacheControl == "" && opts.MaxAgeSecs > 0 {
		cacheControl = fmt.Sprintf("max-age=%d", opts.MaxAgeSecs)
		if opts.Immutable {
			cacheControl += ", immutable"
		}
	}
	if cacheControl != "" {
		headers.Set("cache-control", cacheControl)
	}

	if opts.ETag && rs.Headers.Get("if-none-match") == etag {
		return rs.SendEmpty(http.StatusNotModified, headers)
	}

	start, end := opts.Offset, opts.Offset+opts.Length
	if opts.Length <= 0 {
		end = int64(len(content))
	}

	if rangeHeader := rs.Headers.Get("range"); opts.AcceptRanges && rangeHeader != "" {
		rs2, re, ok := parseByteRange(rangeHeader, int64(len(content)))
		if !ok {
			headers.Set("content-range", fmt.Sprintf("bytes */%d", len(content)))
			return rs.SendEmpty(http.StatusRequestedRangeNotSatisfiable, headers)
		}
		start, end = rs2, re
		headers.Set("content-range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, len(content)))
		return rs.SendBuffer(http.StatusPartialContent, headers, content[start:end])
	}

	if start == 0 && end == int64(len(content)) {
		return rs.SendBuffer(http.StatusOK, headers, content)
	}
	return rs.SendBuffer(http.StatusOK, headers, content[start:end])
}

func notFoundOrHook(rs *RequestState, opts FileSenderOptions) (StreamEnded, error) {
	if opts.OnNotFound != nil {
		return opts.OnNotFound(rs)
	}
	return rs.SendSimple(http.StatusNotFound, "Not Found")
}

// parseByteRange parses a single-range "bytes=start-end" Range header
// value against a resource of the given total size.
func parseByteRange(header string, size int64) (start, end int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		spec = strings.SplitN(spec, ",", 2)[0]
	}
	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return 0, 0, false
	}
	startStr, endStr := spec[:dash], spec[dash+1:]

	if startStr == "" {
		var suffix int64
		if _, err := fmt.Sscanf(endStr, "%d", &suffix); err != nil || suffix <= 0 {
			return 0, 0, false
		}
		if suffix > size {
			suffix = size
		}
		return size - suffix, size, true
	}

	if _, err := fmt.Sscanf(startStr, "%d", &start); err != nil || start < 0 {
		return 0, 0, false
	}
	if endStr == "" {
		end = size
	} else if _, err := fmt.Sscanf(endStr, "%d", &end); err != nil {
		return 0, 0, false
	} else {
		end++
	}
	if end > size {
		end = size
	}
	if start >= size || start >= end {
		return 0, 0, false
	}
	return start, end, true
}
