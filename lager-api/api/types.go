package api

import (
	"context"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	List(ctx context.Context, kind domain.Kind) ([]domain.Entity, error)
	Get(ctx context.Context, kind domain.Kind, id domain.ID) (domain.Entity, error)
	Create(ctx context.Context, kind domain.Kind, ent domain.Entity) (domain.Entity, error)
	Update(ctx context.Context, kind domain.Kind, id domain.ID, ent domain.Entity) (domain.Entity, error)
	Delete(ctx context.Context, kind domain.Kind, id domain.ID) error
	Ping(ctx context.Context) error
}

// Authenticator is implemented by types able to extract the caller from headers.
type Authenticator interface {
	SubjectFromHeader(string) (string, error)
}

type collectionInfo struct {
	Name    string `json:"name"`
	Channel string `json:"channel"`
}
