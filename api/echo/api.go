//nolint:varnamelen
package echo

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"go.pilab.hu/oidcstore"
	ssoerrors "go.pilab.hu/oidcstore/errors"
)

// AdapterAPI exposes a Provider over HTTP for protocol engines running out
// of process.
type AdapterAPI struct {
	provider *oidcstore.Provider
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
}

// NewAdapterAPI initializes the adapter API. A nil gatherer disables the
// metrics endpoint.
func NewAdapterAPI(provider *oidcstore.Provider, gatherer prometheus.Gatherer, logger zerolog.Logger) *AdapterAPI {
	return &AdapterAPI{
		provider: provider,
		gatherer: gatherer,
		logger:   logger,
	}
}

// requestValidator adapts go-playground/validator to echo.Validator.
type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i any) error {
	return v.validate.Struct(i)
}

// NewServer returns an echo instance with middleware and routes installed.
func (a *AdapterAPI) NewServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{validate: validator.New()}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(a.requestLogger)

	a.RegisterRoutes(e)

	return e
}

// RegisterRoutes registers the adapter routes.
func (a *AdapterAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", a.HealthHandler)
	if a.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true})))
	}

	g := e.Group("/adapter")
	g.DELETE("/grants/:grantId", a.RevokeGrantHandler)
	g.PUT("/:model/:id", a.UpsertHandler)
	g.GET("/:model/:id", a.FindHandler)
	g.GET("/:model/uid/:uid", a.FindByUIDHandler)
	g.GET("/:model/user-code/:userCode", a.FindByUserCodeHandler)
	g.POST("/:model/:id/consume", a.ConsumeHandler)
	g.DELETE("/:model/:id", a.DestroyHandler)
}

// requestLogger places a request scoped logger into the request context and
// logs every completed request.
func (a *AdapterAPI) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)

		logger := a.logger.With().Str("request_id", requestID).Logger()
		c.SetRequest(req.WithContext(logger.WithContext(req.Context())))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		logger.Debug().
			Str("method", req.Method).
			Str("path", c.Path()).
			Int("status", c.Response().Status).
			Dur("latency", time.Since(start)).
			Msg("request handled")

		return nil
	}
}

// UpsertRequest is the body of PUT /adapter/:model/:id.
type UpsertRequest struct {
	Payload oidcstore.Payload `json:"payload" validate:"required"`
	// ExpiresIn is the lifetime in seconds; zero or absent means no expiry.
	// It is capped at ten years.
	ExpiresIn int64 `json:"expiresIn" validate:"gte=0,lte=315360000"`
}

func (a *AdapterAPI) adapter(c echo.Context) (*oidcstore.Adapter, error) {
	return a.provider.Adapter(c.Param("model"))
}

// UpsertHandler stores the request payload.
func (a *AdapterAPI) UpsertHandler(c echo.Context) error {
	ad, err := a.adapter(c)
	if err != nil {
		return a.errorResponse(c, err)
	}

	var req UpsertRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ssoerrors.NewInvalidRequest("malformed request body"))
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ssoerrors.NewInvalidRequest(err.Error()))
	}

	err = ad.Upsert(c.Request().Context(), c.Param("id"), req.Payload, time.Duration(req.ExpiresIn)*time.Second)
	if err != nil {
		return a.errorResponse(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// FindHandler returns the payload stored under the id.
func (a *AdapterAPI) FindHandler(c echo.Context) error {
	ad, err := a.adapter(c)
	if err != nil {
		return a.errorResponse(c, err)
	}
	payload, err := ad.Find(c.Request().Context(), c.Param("id"))
	return a.payloadResponse(c, payload, err)
}

// FindByUIDHandler resolves a session by its uid.
func (a *AdapterAPI) FindByUIDHandler(c echo.Context) error {
	ad, err := a.adapter(c)
	if err != nil {
		return a.errorResponse(c, err)
	}
	payload, err := ad.FindByUID(c.Request().Context(), c.Param("uid"))
	return a.payloadResponse(c, payload, err)
}

// FindByUserCodeHandler resolves a record by its user code.
func (a *AdapterAPI) FindByUserCodeHandler(c echo.Context) error {
	ad, err := a.adapter(c)
	if err != nil {
		return a.errorResponse(c, err)
	}
	payload, err := ad.FindByUserCode(c.Request().Context(), c.Param("userCode"))
	return a.payloadResponse(c, payload, err)
}

// ConsumeHandler marks the record as consumed.
func (a *AdapterAPI) ConsumeHandler(c echo.Context) error {
	ad, err := a.adapter(c)
	if err != nil {
		return a.errorResponse(c, err)
	}
	if err := ad.Consume(c.Request().Context(), c.Param("id")); err != nil {
		return a.errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// DestroyHandler deletes the record.
func (a *AdapterAPI) DestroyHandler(c echo.Context) error {
	ad, err := a.adapter(c)
	if err != nil {
		return a.errorResponse(c, err)
	}
	if err := ad.Destroy(c.Request().Context(), c.Param("id")); err != nil {
		return a.errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RevokeGrantHandler deletes every record issued under the grant.
func (a *AdapterAPI) RevokeGrantHandler(c echo.Context) error {
	err := a.provider.For(oidcstore.Grant).RevokeByGrantID(c.Request().Context(), c.Param("grantId"))
	if err != nil {
		return a.errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HealthHandler reports whether the backend answers.
func (a *AdapterAPI) HealthHandler(c echo.Context) error {
	if err := a.provider.Store().Ping(c.Request().Context()); err != nil {
		zerolog.Ctx(c.Request().Context()).Warn().Err(err).Msg("health check failed")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (a *AdapterAPI) payloadResponse(c echo.Context, payload oidcstore.Payload, err error) error {
	if err != nil {
		return a.errorResponse(c, err)
	}
	if payload == nil {
		return c.NoContent(http.StatusNotFound)
	}
	return c.JSON(http.StatusOK, payload)
}

// errorResponse maps store and client errors to OAuth style responses.
func (a *AdapterAPI) errorResponse(c echo.Context, err error) error {
	var oauthErr *ssoerrors.OAuth2Error

	switch {
	case errors.Is(err, oidcstore.ErrUnknownModel):
		return c.JSON(http.StatusBadRequest, ssoerrors.NewInvalidRequest(err.Error()))
	case errors.Is(err, oidcstore.ErrUnsupportedOperation):
		return c.JSON(http.StatusMethodNotAllowed, ssoerrors.NewInvalidRequest(err.Error()))
	case errors.As(err, &oauthErr):
		return c.JSON(http.StatusBadRequest, oauthErr)
	case errors.Is(err, oidcstore.ErrBackendUnavailable):
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg("backend unavailable")
		return c.JSON(http.StatusServiceUnavailable, ssoerrors.NewTemporarilyUnavailable("state store unavailable"))
	case errors.Is(err, oidcstore.ErrCorruptPayload):
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg("corrupt record")
		return c.JSON(http.StatusInternalServerError, ssoerrors.NewServerError("stored record is corrupt"))
	default:
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg("adapter call failed")
		return c.JSON(http.StatusInternalServerError, ssoerrors.NewServerError("internal error"))
	}
}
