package ingestion

import (
	"github.com/gin-gonic/gin"

	"github.com/cmu-delphi/epitools/internal/core/dataset"
	"github.com/cmu-delphi/epitools/internal/core/storage"
)

type Service struct {
	datasets         dataset.Repository
	store            storage.ObservationStore
	maxBodySizeBytes int
}

func NewService(datasets dataset.Repository, store storage.ObservationStore, maxBodySizeMB int) *Service {
	if datasets == nil {
		panic("ingestion: dataset repository must not be nil")
	}
	if store == nil {
		panic("ingestion: store must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		datasets:         datasets,
		store:            store,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/datasets/:dataset/observations", s.IngestHandler)
}
