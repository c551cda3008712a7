package graph

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VertexRecord is the persistence row for a vertex.
type VertexRecord struct {
	gorm.Model
	VertexID    string `gorm:"uniqueIndex"`
	Kind        string
	ChannelKind string
}

// EdgeRecord is the persistence row for an edge.
type EdgeRecord struct {
	gorm.Model
	Kind     string `gorm:"uniqueIndex:idx_edge;index"`
	SourceID string `gorm:"uniqueIndex:idx_edge;index"`
	TargetID string `gorm:"uniqueIndex:idx_edge;index"`
}

// Store mirrors structural writes so the adjacency cache can be rebuilt at
// startup.
type Store interface {
	InsertVertex(v VertexRecord) error
	DeleteVertex(vertexID string) error
	InsertEdge(e EdgeRecord) error
	DeleteEdge(e EdgeRecord) error
	DeleteVertexEdges(vertexID string) error
	Load() ([]VertexRecord, []EdgeRecord, error)
}

type gormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (Store, error) {
	if err := db.AutoMigrate(&VertexRecord{}, &EdgeRecord{}); err != nil {
		return nil, err
	}
	return &gormStore{db: db}, nil
}

func (s *gormStore) InsertVertex(v VertexRecord) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&v).Error
}

func (s *gormStore) DeleteVertex(vertexID string) error {
	return s.db.Unscoped().Delete(&VertexRecord{}, "vertex_id = ?", vertexID).Error
}

func (s *gormStore) InsertEdge(e EdgeRecord) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&e).Error
}

func (s *gormStore) DeleteEdge(e EdgeRecord) error {
	return s.db.Unscoped().
		Delete(&EdgeRecord{}, "kind = ? AND source_id = ? AND target_id = ?", e.Kind, e.SourceID, e.TargetID).Error
}

func (s *gormStore) DeleteVertexEdges(vertexID string) error {
	return s.db.Unscoped().
		Delete(&EdgeRecord{}, "source_id = ? OR target_id = ?", vertexID, vertexID).Error
}

func (s *gormStore) Load() ([]VertexRecord, []EdgeRecord, error) {
	var vertices []VertexRecord
	if err := s.db.Find(&vertices).Error; err != nil {
		return nil, nil, err
	}

	var edges []EdgeRecord
	if err := s.db.Find(&edges).Error; err != nil {
		return nil, nil, err
	}

	return vertices, edges, nil
}
