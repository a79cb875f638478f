package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
	"github.com/Rebelein/Refu-Lager-Vserver-sub001/storage"
)

const maxBodySize = 1 << 20

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, logger *log.Logger) {
	e.GET("/healthz", healthz(store))
	e.GET("/api/collections", listCollections(auth))
	e.GET("/api/:collection", listEntities(store, auth, logger))
	e.POST("/api/:collection", createEntity(store, auth, logger))
	e.GET("/api/:collection/:id", getEntity(store, auth, logger))
	e.PUT("/api/:collection/:id", updateEntity(store, auth, logger))
	e.DELETE("/api/:collection/:id", deleteEntity(store, auth, logger))
}

func healthz(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			return c.String(http.StatusServiceUnavailable, err.Error())
		}
		return c.NoContent(http.StatusOK)
	}
}

func listCollections(auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.SubjectFromHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		kinds := domain.Kinds()
		out := make([]collectionInfo, 0, len(kinds))
		for _, k := range kinds {
			out = append(out, collectionInfo{Name: k.Name, Channel: k.Name})
		}
		return c.JSON(http.StatusOK, out)
	}
}

// request carries the per-request state shared by the collection handlers.
type request struct {
	c       echo.Context
	ctx     context.Context
	metrics *requestMetrics
	kind    domain.Kind
}

// begin starts metrics, authenticates the caller and resolves the
// collection. It writes the error response itself and returns ok=false when
// the request cannot proceed.
func begin(c echo.Context, auth Authenticator, logger *log.Logger, route string) (*request, bool, error) {
	metrics, ctx := newRequestMetrics(c.Request().Context(), logger, c.Request().Method, route)
	c.SetRequest(c.Request().WithContext(ctx))
	r := &request{c: c, ctx: ctx, metrics: metrics}

	authStart := time.Now()
	_, authErr := auth.SubjectFromHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	metrics.ObserveAuth(time.Since(authStart))
	if authErr != nil {
		return r, false, r.fail("auth", http.StatusUnauthorized, authErr)
	}

	name := c.Param("collection")
	metrics.SetCollection(name)
	kind, err := domain.KindByName(name)
	if err != nil {
		return r, false, r.fail("collection", http.StatusNotFound, err)
	}
	r.kind = kind
	return r, true, nil
}

func (r *request) fail(stage string, status int, err error) error {
	r.metrics.SetErrorStage(stage)
	if status >= http.StatusInternalServerError {
		r.c.Logger().Error(err)
	}
	werr := r.c.String(status, err.Error())
	r.metrics.Log(status, err)
	return werr
}

func (r *request) storeFailed(err error) error {
	var verr domain.ValidationError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return r.fail("not_found", http.StatusNotFound, err)
	case errors.As(err, &verr):
		return r.fail("validation", http.StatusBadRequest, err)
	default:
		return r.fail("storage", http.StatusInternalServerError, err)
	}
}

func (r *request) respond(status int, body any) error {
	var err error
	if body == nil {
		err = r.c.NoContent(status)
	} else {
		err = r.c.JSON(status, body)
	}
	if err != nil {
		r.metrics.SetErrorStage("encode_response")
	}
	r.metrics.Log(status, err)
	return err
}

// decode reads an entity of the request kind from the body.
func (r *request) decode() (domain.Entity, error) {
	ent := r.kind.New()
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(r.c.Request().Body, maxBodySize))
	if err := dec.Decode(ent); err != nil {
		return nil, errors.New("invalid body")
	}
	if err := ent.Validate(); err != nil {
		return nil, err
	}
	return ent, nil
}

func listEntities(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		r, ok, err := begin(c, auth, logger, "/api/:collection")
		if !ok {
			return err
		}
		start := time.Now()
		items, err := store.List(r.ctx, r.kind)
		r.metrics.ObserveStore(time.Since(start))
		if err != nil {
			return r.storeFailed(err)
		}
		if items == nil {
			items = []domain.Entity{}
		}
		r.metrics.SetItemsReturned(len(items))
		return r.respond(http.StatusOK, items)
	}
}

func getEntity(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		r, ok, err := begin(c, auth, logger, "/api/:collection/:id")
		if !ok {
			return err
		}
		start := time.Now()
		ent, err := store.Get(r.ctx, r.kind, domain.ID(c.Param("id")))
		r.metrics.ObserveStore(time.Since(start))
		if err != nil {
			return r.storeFailed(err)
		}
		r.metrics.SetItemsReturned(1)
		return r.respond(http.StatusOK, ent)
	}
}

func createEntity(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		r, ok, err := begin(c, auth, logger, "/api/:collection")
		if !ok {
			return err
		}
		ent, err := r.decode()
		if err != nil {
			return r.fail("invalid_body", http.StatusBadRequest, err)
		}
		start := time.Now()
		created, err := store.Create(r.ctx, r.kind, ent)
		r.metrics.ObserveStore(time.Since(start))
		if err != nil {
			return r.storeFailed(err)
		}
		r.metrics.SetItemsReturned(1)
		return r.respond(http.StatusCreated, created)
	}
}

func updateEntity(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		r, ok, err := begin(c, auth, logger, "/api/:collection/:id")
		if !ok {
			return err
		}
		ent, err := r.decode()
		if err != nil {
			return r.fail("invalid_body", http.StatusBadRequest, err)
		}
		start := time.Now()
		updated, err := store.Update(r.ctx, r.kind, domain.ID(c.Param("id")), ent)
		r.metrics.ObserveStore(time.Since(start))
		if err != nil {
			return r.storeFailed(err)
		}
		r.metrics.SetItemsReturned(1)
		return r.respond(http.StatusOK, updated)
	}
}

func deleteEntity(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		r, ok, err := begin(c, auth, logger, "/api/:collection/:id")
		if !ok {
			return err
		}
		start := time.Now()
		err = store.Delete(r.ctx, r.kind, domain.ID(c.Param("id")))
		r.metrics.ObserveStore(time.Since(start))
		if err != nil {
			return r.storeFailed(err)
		}
		return r.respond(http.StatusNoContent, nil)
	}
}
