package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/inkwell-notes/inkwell/internal/exchange"
	"github.com/inkwell-notes/inkwell/internal/records"
)

const namespaceContextKey = "inkwell_namespace"

var (
	errMissingExchangeService = errors.New("exchange service dependency required")
	errMissingSyncKey         = errors.New("sync key dependency required")
)

// Dependencies wires the HTTP surface to the exchange service.
type Dependencies struct {
	Exchange *exchange.Service
	// SyncKey is the shared secret every request must present in the
	// X-Sync-Key header; it doubles as the storage namespace.
	SyncKey string
	Logger  *zap.Logger
}

// NewHTTPHandler builds the gin router: GET /health plus POST /sync behind
// the sync-key check.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Exchange == nil {
		return nil, errMissingExchangeService
	}
	if strings.TrimSpace(deps.SyncKey) == "" {
		return nil, errMissingSyncKey
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{exchange.SyncKeyHeader, "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		exchange: deps.Exchange,
		syncKey:  []byte(deps.SyncKey),
		logger:   logger,
	}

	router.GET("/health", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/sync", handler.handleSync)

	return router, nil
}

type httpHandler struct {
	exchange *exchange.Service
	syncKey  []byte
	logger   *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// authorizeRequest rejects the whole exchange before anything is applied
// when the sync key is absent or wrong. The comparison is byte-for-byte in
// constant time.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	presented := c.GetHeader(exchange.SyncKeyHeader)
	if presented == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_sync_key"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(presented), h.syncKey) != 1 {
		h.logger.Warn("sync key mismatch")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(namespaceContextKey, presented)
	c.Next()
}

func (h *httpHandler) handleSync(c *gin.Context) {
	namespace, err := records.NewNamespace(c.GetString(namespaceContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request exchange.SyncRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	response, err := h.exchange.Exchange(c.Request.Context(), namespace, request)
	if err != nil {
		if errors.Is(err, exchange.ErrInvalidWatermark) ||
			errors.Is(err, records.ErrInvalidRecordID) ||
			errors.Is(err, records.ErrInvalidTimestamp) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		h.logger.Error("sync exchange failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}

	c.JSON(http.StatusOK, response)
}
