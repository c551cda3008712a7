package metrics

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Process-wide delivery counters, bumped from the socket gateway, the mutation
// service and the dispatcher.
var (
	socketFramesOut        int64
	socketBytesOut         int64
	notificationsPublished int64
	notificationsReceived  int64
)

func AddSocketFrame(bytes int64) {
	atomic.AddInt64(&socketFramesOut, 1)
	atomic.AddInt64(&socketBytesOut, bytes)
}

func AddNotificationsPublished(n int64) {
	atomic.AddInt64(&notificationsPublished, n)
}

func AddNotificationsReceived(n int64) {
	atomic.AddInt64(&notificationsReceived, n)
}

type Snapshot struct {
	ID                     uint      `gorm:"primaryKey" json:"id"`
	Timestamp              time.Time `gorm:"index" json:"timestamp"`
	SocketFramesOut        int64     `gorm:"default:0" json:"socket_frames_out"`
	SocketBytesOut         int64     `gorm:"default:0" json:"socket_bytes_out"`
	NotificationsPublished int64     `gorm:"default:0" json:"notifications_published"`
	NotificationsReceived  int64     `gorm:"default:0" json:"notifications_received"`
	ConnectedClients       int       `gorm:"default:0" json:"connected_clients"`
}

func (Snapshot) TableName() string {
	return "metrics_snapshots"
}

// Service persists periodic snapshots of the counters so delivery throughput
// survives restarts for inspection.
type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clientCount func() int
	ticker      *time.Ticker
	cleanupTick *time.Ticker
	done        chan bool
}

func NewService(db *gorm.DB, clientCount func() int, log *zap.Logger) (*Service, error) {
	if err := db.AutoMigrate(&Snapshot{}); err != nil {
		return nil, err
	}
	return &Service{
		db:          db,
		log:         log,
		clientCount: clientCount,
		ticker:      time.NewTicker(1 * time.Minute),
		cleanupTick: time.NewTicker(24 * time.Hour),
		done:        make(chan bool),
	}, nil
}

func (s *Service) Start() {
	s.saveSnapshot()

	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.saveSnapshot()
			case <-s.cleanupTick.C:
				s.cleanup()
			case <-s.done:
				return
			}
		}
	}()
}

func (s *Service) Stop() {
	s.ticker.Stop()
	s.cleanupTick.Stop()
	s.saveSnapshot()
	close(s.done)
}

func (s *Service) Current() Snapshot {
	return Snapshot{
		Timestamp:              time.Now(),
		SocketFramesOut:        atomic.LoadInt64(&socketFramesOut),
		SocketBytesOut:         atomic.LoadInt64(&socketBytesOut),
		NotificationsPublished: atomic.LoadInt64(&notificationsPublished),
		NotificationsReceived:  atomic.LoadInt64(&notificationsReceived),
		ConnectedClients:       s.clientCount(),
	}
}

func (s *Service) saveSnapshot() {
	snapshot := s.Current()
	if err := s.db.Create(&snapshot).Error; err != nil {
		s.log.Error("saving metrics snapshot", zap.Error(err))
	}
}

func (s *Service) cleanup() {
	cutoff := time.Now().AddDate(0, 0, -7)

	result := s.db.Where("timestamp < ?", cutoff).Delete(&Snapshot{})
	if result.Error != nil {
		s.log.Error("cleaning up old snapshots", zap.Error(result.Error))
	} else if result.RowsAffected > 0 {
		s.log.Info("cleaned up old metrics snapshots", zap.Int64("rows", result.RowsAffected))
	}
}
