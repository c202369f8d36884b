package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-authgate/checkrgate/internal/logger"
	"github.com/go-authgate/checkrgate/internal/models"
	"github.com/go-authgate/checkrgate/internal/store"
	"github.com/go-authgate/checkrgate/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultAuditBufferSize = 1000
	auditBatchSize         = 100
	auditFlushInterval     = time.Second
	auditWriteTimeout      = 5 * time.Second
	redactedValue          = "***REDACTED***"
)

// AuditLogEntry represents the data needed to create an audit log entry
type AuditLogEntry struct {
	EventType        models.EventType
	Severity         models.EventSeverity
	PartnerAccountID string
	CheckrAccountID  string
	Action           string
	Details          models.AuditDetails
	Success          bool
	ErrorMessage     string
	ActorIP          string
	RequestPath      string
}

// AuditService records authorization events. Writes are batched by a
// background worker; a full buffer drops events rather than blocking callers.
type AuditService struct {
	store      *store.Store
	enabled    bool
	bufferSize int
	log        *zap.Logger

	logChan chan *models.AuditLog

	batchBuffer []*models.AuditLog
	batchMutex  sync.Mutex
	batchTicker *time.Ticker

	wg           sync.WaitGroup
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewAuditService creates a new audit service and starts its worker when enabled
func NewAuditService(s *store.Store, enabled bool, bufferSize int) *AuditService {
	if bufferSize <= 0 {
		bufferSize = defaultAuditBufferSize
	}

	service := &AuditService{
		store:       s,
		enabled:     enabled,
		bufferSize:  bufferSize,
		log:         logger.L().With(zap.String("component", "audit")),
		logChan:     make(chan *models.AuditLog, bufferSize),
		batchBuffer: make([]*models.AuditLog, 0, auditBatchSize),
		shutdownCh:  make(chan struct{}),
	}

	if enabled {
		service.batchTicker = time.NewTicker(auditFlushInterval)
		service.wg.Add(1)
		go service.worker()
		service.log.Info("audit.started", zap.Int("buffer_size", bufferSize))
	} else {
		service.log.Info("audit.disabled")
	}

	return service
}

func (s *AuditService) worker() {
	defer s.wg.Done()

	for {
		select {
		case entry := <-s.logChan:
			s.addToBatch(entry)

		case <-s.batchTicker.C:
			s.flushBatch()

		case <-s.shutdownCh:
			s.drain()
			s.flushBatch()
			return
		}
	}
}

// drain moves whatever is still queued into the batch buffer
func (s *AuditService) drain() {
	for {
		select {
		case entry := <-s.logChan:
			s.addToBatch(entry)
		default:
			return
		}
	}
}

func (s *AuditService) addToBatch(entry *models.AuditLog) {
	s.batchMutex.Lock()
	defer s.batchMutex.Unlock()

	s.batchBuffer = append(s.batchBuffer, entry)
	if len(s.batchBuffer) >= auditBatchSize {
		s.flushBatchUnsafe()
	}
}

func (s *AuditService) flushBatch() {
	s.batchMutex.Lock()
	defer s.batchMutex.Unlock()
	s.flushBatchUnsafe()
}

// flushBatchUnsafe writes the buffer; caller must hold batchMutex
func (s *AuditService) flushBatchUnsafe() {
	if len(s.batchBuffer) == 0 {
		return
	}

	toWrite := make([]*models.AuditLog, len(s.batchBuffer))
	copy(toWrite, s.batchBuffer)
	s.batchBuffer = s.batchBuffer[:0]

	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	if err := s.store.CreateAuditLogBatch(ctx, toWrite); err != nil {
		s.log.Error("audit.flush_failed",
			zap.Int("entries", len(toWrite)),
			zap.Error(err),
		)
	}
}

// Log records an audit log entry asynchronously
func (s *AuditService) Log(ctx context.Context, entry AuditLogEntry) {
	if !s.enabled {
		return
	}

	select {
	case s.logChan <- s.buildLog(ctx, entry):
	default:
		s.log.Warn("audit.buffer_full",
			zap.String("event_type", string(entry.EventType)),
			zap.String("partner_account_id", entry.PartnerAccountID),
		)
	}
}

// LogSync records an audit log entry synchronously
func (s *AuditService) LogSync(ctx context.Context, entry AuditLogEntry) error {
	if !s.enabled {
		return nil
	}
	return s.store.CreateAuditLog(ctx, s.buildLog(ctx, entry))
}

func (s *AuditService) buildLog(ctx context.Context, entry AuditLogEntry) *models.AuditLog {
	if entry.ActorIP == "" {
		entry.ActorIP = util.GetIPFromContext(ctx)
	}
	if entry.RequestPath == "" {
		entry.RequestPath = util.GetRequestPathFromContext(ctx)
	}
	if entry.Severity == "" {
		entry.Severity = models.SeverityInfo
	}

	now := time.Now()
	return &models.AuditLog{
		ID:               uuid.New().String(),
		EventType:        entry.EventType,
		EventTime:        now,
		Severity:         entry.Severity,
		PartnerAccountID: entry.PartnerAccountID,
		CheckrAccountID:  entry.CheckrAccountID,
		Action:           entry.Action,
		Details:          maskSensitiveDetails(entry.Details),
		Success:          entry.Success,
		ErrorMessage:     entry.ErrorMessage,
		ActorIP:          entry.ActorIP,
		RequestPath:      entry.RequestPath,
		CreatedAt:        now,
	}
}

// ListAccountEvents returns a page of events for one partner account
func (s *AuditService) ListAccountEvents(
	ctx context.Context,
	partnerAccountID string,
	params store.PaginationParams,
) ([]models.AuditLog, store.PaginationResult, error) {
	return s.store.ListAuditLogs(ctx, partnerAccountID, params)
}

// CleanupOldLogs deletes audit logs older than the retention period
func (s *AuditService) CleanupOldLogs(ctx context.Context, retention time.Duration) (int64, error) {
	return s.store.DeleteOldAuditLogs(ctx, time.Now().Add(-retention))
}

// Shutdown flushes queued entries and stops the worker
func (s *AuditService) Shutdown(ctx context.Context) error {
	if !s.enabled {
		return nil
	}

	s.shutdownOnce.Do(func() {
		s.batchTicker.Stop()
		close(s.shutdownCh)
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("audit.stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit service shutdown timeout: %w", ctx.Err())
	}
}

// maskSensitiveDetails masks credentials and signatures in audit details
func maskSensitiveDetails(details models.AuditDetails) models.AuditDetails {
	if details == nil {
		return nil
	}

	masked := make(models.AuditDetails, len(details))
	for key, value := range details {
		if isSensitiveField(key) {
			masked[key] = redactedValue
			continue
		}

		if isPartialMaskField(key) {
			if str, ok := value.(string); ok && len(str) > 12 {
				masked[key] = str[:8] + "..." + str[len(str)-4:]
				continue
			}
		}

		masked[key] = value
	}
	return masked
}

func isSensitiveField(key string) bool {
	key = strings.ToLower(key)
	for _, field := range []string{
		"secret",
		"token",
		"access_code",
		"authorization_code",
		"signature",
	} {
		if strings.Contains(key, field) {
			return true
		}
	}
	return false
}

func isPartialMaskField(key string) bool {
	key = strings.ToLower(key)
	for _, field := range []string{"notification_id"} {
		if strings.Contains(key, field) {
			return true
		}
	}
	return false
}
