package cli

import (
	"context"
	"errors"

	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/ports/driven"
	"github.com/custodia-labs/bisync/internal/core/services"
)

// Services are the dependencies a command runs against.
type Services struct {
	Config   *domain.Config
	Engine   *services.Engine
	State    driven.SyncStateStore
	History  driven.PassHistoryStore
	Mappings driven.MappingSource

	// Close releases stores and state. May be nil.
	Close func() error
}

// Opener loads the configuration at path, lets adjust override it and
// builds the services from the result.
type Opener func(ctx context.Context, path string, adjust func(*domain.Config)) (*Services, error)

var openServices Opener

// SetOpener installs the function commands use to build their services.
func SetOpener(o Opener) {
	openServices = o
}

func open(ctx context.Context, adjust func(*domain.Config)) (*Services, error) {
	if openServices == nil {
		return nil, errors.New("services not configured")
	}
	return openServices(ctx, configPath, adjust)
}

func (s *Services) close() {
	if s == nil || s.Close == nil {
		return
	}
	if err := s.Close(); err != nil {
		cliLog.Warn("closing services: %v", err)
	}
}
