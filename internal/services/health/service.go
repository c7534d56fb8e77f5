package health

import (
	"context"
	"time"
)

const pingTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Service encapsulates health-related checks.
type Service struct {
	DB            Pinger
	MetadataStore string
	ObjectStore   string
}

// NewService constructs a new health service. db may be nil when the
// metadata store is not Postgres.
func NewService(db Pinger, metadataStore, objectStore string) *Service {
	return &Service{DB: db, MetadataStore: metadataStore, ObjectStore: objectStore}
}

// Status returns the health payload and whether every dependency is reachable.
func (s *Service) Status(ctx context.Context) (map[string]any, bool) {
	out := map[string]any{
		"ok":            true,
		"metadataStore": s.MetadataStore,
		"objectStore":   s.ObjectStore,
	}
	if s.DB == nil {
		return out, true
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.DB.PingContext(ctx); err != nil {
		out["ok"] = false
		out["database"] = err.Error()
		return out, false
	}
	out["database"] = "ok"
	return out, true
}
