package relay

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/op/go-logging.v1"

	"whisper/internal/domain"
	"whisper/internal/log"
	"whisper/internal/metrics"
	"whisper/internal/protocol/x3dh"
)

// DefaultLimit is how many envelopes a fetch returns when no limit is given.
const DefaultLimit = 100

// Server is the in-memory store-and-forward relay. It only ever holds public
// keys and ciphertext.
type Server struct {
	mu     sync.Mutex
	keys   map[domain.Address]domain.PublishedKeys
	queues map[domain.Address][]domain.Envelope

	validate *validator.Validate
	metrics  *metrics.Relay
	log      *logging.Logger
	now      func() time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMetrics sets the relay collectors.
func WithMetrics(m *metrics.Relay) ServerOption { return func(s *Server) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ServerOption { return func(s *Server) { s.log = l } }

// WithClock sets the clock used to stamp envelopes that arrive without a timestamp.
func WithClock(now func() time.Time) ServerOption { return func(s *Server) { s.now = now } }

// NewServer returns an empty relay.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		keys:     make(map[domain.Address]domain.PublishedKeys),
		queues:   make(map[domain.Address][]domain.Envelope),
		validate: validator.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewRelay(nil)
	}
	if s.log == nil {
		s.log = log.Discard("relay")
	}
	return s
}

// Router builds the gin engine serving the relay API. When g is not nil the
// collectors it gathers are exposed on /metrics.
func (s *Server) Router(g prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(s.observe())

	v1 := r.Group("/v1")
	keys := v1.Group("/keys")
	keys.PUT("/:name/:device", s.putKeys)
	keys.GET("/:name/:device", s.getBundle)

	msgs := v1.Group("/messages")
	msgs.PUT("/:name/:device", s.putMessage)
	msgs.GET("/:name/:device", s.getMessages)
	msgs.DELETE("/:name/:device/:id", s.deleteMessage)

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if g != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
	}
	return r
}

// RequestID echoes the caller's X-Request-ID or assigns a fresh one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(requestIDHeader) == "" {
			c.Request.Header.Set(requestIDHeader, uuid.NewString())
		}
		c.Header(requestIDHeader, c.GetHeader(requestIDHeader))
		c.Next()
	}
}

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()
		s.metrics.Requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
		s.log.Debugf("%s %s %d %s id=%s", c.Request.Method, c.Request.URL.Path, code, time.Since(start), c.GetHeader(requestIDHeader))
	}
}

func abort(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, errorJSON{Error: err.Error()})
}

var errBadDevice = errors.New("device must be a positive integer")

func addressParam(c *gin.Context) (domain.Address, error) {
	dev, err := strconv.ParseUint(c.Param("device"), 10, 32)
	if err != nil || dev == 0 {
		return domain.Address{}, errBadDevice
	}
	return domain.Address{Name: c.Param("name"), DeviceID: uint32(dev)}, nil
}

func (s *Server) putKeys(c *gin.Context) {
	addr, err := addressParam(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	var req keysJSON
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	keys, err := req.decode(addr)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if err := x3dh.VerifySignedPreKey(keys.IdentityKey, keys.SignedPreKey, keys.SignedPreKeySignature); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	s.keys[addr] = keys
	s.mu.Unlock()

	s.log.Infof("Published keys for %s: signed pre-key %d, %d one-time pre-keys", addr, keys.SignedPreKeyID, len(keys.PreKeys))
	c.Status(http.StatusNoContent)
}

func (s *Server) getBundle(c *gin.Context) {
	addr, err := addressParam(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	keys, ok := s.keys[addr]
	var b domain.PreKeyBundle
	if ok {
		b = domain.PreKeyBundle{
			Address:               addr,
			RegistrationID:        keys.RegistrationID,
			IdentityKey:           keys.IdentityKey,
			SignedPreKeyID:        keys.SignedPreKeyID,
			SignedPreKey:          keys.SignedPreKey,
			SignedPreKeySignature: keys.SignedPreKeySignature,
		}
		if len(keys.PreKeys) > 0 {
			pk := keys.PreKeys[0]
			b.PreKey = &pk
			keys.PreKeys = keys.PreKeys[1:]
			s.keys[addr] = keys
		}
	}
	s.mu.Unlock()

	if !ok {
		abort(c, http.StatusNotFound, errors.New("no keys published for "+addr.String()))
		return
	}
	s.metrics.BundlesServed.Inc()
	if b.PreKey == nil {
		s.metrics.PreKeysEmpty.Inc()
		s.log.Warningf("Served bundle for %s without a one-time pre-key", addr)
	}
	c.JSON(http.StatusOK, encodeBundle(b))
}

func (s *Server) putMessage(c *gin.Context) {
	addr, err := addressParam(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	var env domain.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if env.Destination != (domain.Address{}) && env.Destination != addr {
		abort(c, http.StatusBadRequest, errors.New("destination does not match route"))
		return
	}
	env.Destination = addr
	if err := s.validate.Struct(&env); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	env.ID = uuid.NewString()
	if env.Timestamp == 0 {
		env.Timestamp = s.now().UnixMilli()
	}

	s.mu.Lock()
	s.queues[addr] = append(s.queues[addr], env)
	s.mu.Unlock()
	s.metrics.Queued.Inc()

	c.JSON(http.StatusCreated, sentJSON{ID: env.ID})
}

func (s *Server) getMessages(c *gin.Context) {
	addr, err := addressParam(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	limit := DefaultLimit
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			abort(c, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	s.mu.Lock()
	q := s.queues[addr]
	out := slices.Clone(q[:min(limit, len(q))])
	s.mu.Unlock()

	if out == nil {
		out = []domain.Envelope{}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) deleteMessage(c *gin.Context) {
	addr, err := addressParam(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	id := c.Param("id")

	s.mu.Lock()
	q := s.queues[addr]
	i := slices.IndexFunc(q, func(e domain.Envelope) bool { return e.ID == id })
	if i >= 0 {
		s.queues[addr] = slices.Delete(q, i, i+1)
	}
	s.mu.Unlock()

	if i < 0 {
		abort(c, http.StatusNotFound, errors.New("no envelope "+id))
		return
	}
	s.metrics.Queued.Dec()
	c.Status(http.StatusNoContent)
}
