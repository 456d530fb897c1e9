package dispatcher

import (
	"bufio"
	"bytes"
	"d20d/pkg/cachemanager"
	"d20d/pkg/files"
	"d20d/pkg/metrics"
	"d20d/pkg/response"
	"d20d/pkg/utils/logger"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"strings"
)

var (
	// ErrProtocol means the request line could not be parsed. Nothing is
	// written back; the caller just closes the connection.
	ErrProtocol = errors.New("malformed request line")
	// ErrUnsupported means the verb has no handler. Nothing is written back.
	ErrUnsupported = errors.New("unsupported request")
	// ErrNotFoundPageMissing means the not-found document itself is gone.
	ErrNotFoundPageMissing = errors.New("not-found page missing")
)

const (
	methodGet = "GET"
	d20Path   = "/d20"

	routeD20      = "d20"
	routeFile     = "file"
	routeLimited  = "rate_limited"
	defaultMaxReq = 64 * 1024
)

type Options struct {
	ContentRoot string
	// NotFoundPage is the filesystem path of the document served with 404s.
	NotFoundPage        string
	IndexFile           string
	MaxRequestLineBytes int
	// Roll returns the /d20 result. Nil means a uniform roll over [1,20].
	Roll func() int
}

// Dispatcher answers exactly one request per connection.
type Dispatcher struct {
	options Options
	cache   *cachemanager.CacheManager
	loader  files.Loader
	builder *response.Builder
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func New(options Options, cache *cachemanager.CacheManager, loader files.Loader, builder *response.Builder, metrics *metrics.Metrics, logger *logger.Logger) *Dispatcher {
	if options.MaxRequestLineBytes <= 0 {
		options.MaxRequestLineBytes = defaultMaxReq
	}
	if options.Roll == nil {
		options.Roll = rollD20
	}

	return &Dispatcher{
		options: options,
		cache:   cache,
		loader:  loader,
		builder: builder,
		metrics: metrics,
		logger:  logger,
	}
}

func rollD20() int {
	return rand.IntN(20) + 1
}

// CheckNotFoundPage verifies the not-found document can be loaded. Without it
// the server has no way to report a missing file.
func (d *Dispatcher) CheckNotFoundPage() error {
	_, ok, err := d.loader.Load(d.options.NotFoundPage)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotFoundPageMissing, d.options.NotFoundPage, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFoundPageMissing, d.options.NotFoundPage)
	}
	return nil
}

// Handle reads one request line from conn and writes the matching response.
// The caller owns conn and closes it afterwards whatever the outcome.
func (d *Dispatcher) Handle(conn io.ReadWriter, log *logger.Logger) error {
	if log == nil {
		log = d.logger
	}

	verb, path, err := d.readRequestLine(conn)
	if err != nil {
		if errors.Is(err, ErrProtocol) {
			d.metrics.ProtocolErrors.Inc()
		}
		return err
	}
	log.Info(fmt.Sprintf("Incoming request - Method: %s, Path: %s", verb, path))

	if verb != methodGet {
		return fmt.Errorf("%w: %s %s", ErrUnsupported, verb, path)
	}

	if path == d20Path {
		return d.serveD20(conn, log)
	}
	return d.serveFile(conn, path, log)
}

func (d *Dispatcher) readRequestLine(r io.Reader) (string, string, error) {
	br := bufio.NewReaderSize(r, d.options.MaxRequestLineBytes)

	line, err := br.ReadSlice('\n')
	switch {
	case err == nil:
	case errors.Is(err, bufio.ErrBufferFull):
		return "", "", fmt.Errorf("%w: longer than %d bytes", ErrProtocol, d.options.MaxRequestLineBytes)
	case errors.Is(err, io.EOF):
		if len(bytes.TrimSpace(line)) == 0 {
			return "", "", fmt.Errorf("%w: empty request", ErrProtocol)
		}
	default:
		return "", "", fmt.Errorf("read request line: %w", err)
	}

	tokens := strings.Fields(string(line))
	if len(tokens) < 2 {
		return "", "", fmt.Errorf("%w: %q", ErrProtocol, strings.TrimSpace(string(line)))
	}
	return tokens[0], tokens[1], nil
}

func (d *Dispatcher) serveD20(w io.Writer, log *logger.Logger) error {
	roll := d.options.Roll()
	log.Debug(fmt.Sprintf("Rolled d20: %d", roll))

	_, err := d.builder.Send(w, response.StatusOK, "text/plain", []byte(strconv.Itoa(roll)))
	d.record(routeD20, "200")
	return err
}

func (d *Dispatcher) serveFile(w io.Writer, requestPath string, log *logger.Logger) error {
	filePath := files.Resolve(d.options.ContentRoot, requestPath, d.options.IndexFile)

	if e, ok := d.cache.Get(filePath); ok {
		log.Debug(fmt.Sprintf("Serving %s from cache", filePath))
		_, err := d.builder.Send(w, response.StatusOK, e.ContentType, e.Content)
		d.record(routeFile, "200")
		return err
	}

	fd, ok, err := d.loader.Load(filePath)
	if err != nil {
		log.Error(fmt.Sprintf("Unable to read %s: %v", filePath, err))
		return d.serveNotFound(w, log)
	}
	if !ok {
		log.Info(fmt.Sprintf("No file at %s", filePath))
		return d.serveNotFound(w, log)
	}

	mimeType := files.MimeType(filePath)
	_, sendErr := d.builder.Send(w, response.StatusOK, mimeType, fd.Data)
	d.record(routeFile, "200")

	d.cache.Set(filePath, mimeType, fd.Data)
	return sendErr
}

// serveNotFound sends the not-found document. It is loaded on every use and
// never cached.
func (d *Dispatcher) serveNotFound(w io.Writer, log *logger.Logger) error {
	page := d.options.NotFoundPage

	fd, ok, err := d.loader.Load(page)
	if err != nil || !ok {
		log.Error(fmt.Sprintf("Cannot find system 404 file %s", page))
		return fmt.Errorf("%w: %s", ErrNotFoundPageMissing, page)
	}

	_, sendErr := d.builder.Send(w, response.StatusNotFound, files.MimeType(page), fd.Data)
	d.record(routeFile, "404")
	return sendErr
}

// RejectRateLimited answers with a 429 carrying message.
func (d *Dispatcher) RejectRateLimited(w io.Writer, message string) error {
	d.metrics.RateLimited.Inc()
	_, err := d.builder.Send(w, response.StatusTooManyRequests, "text/plain", []byte(message))
	d.record(routeLimited, "429")
	return err
}

func (d *Dispatcher) record(route, status string) {
	d.metrics.Requests.WithLabelValues(route, status).Inc()
}
