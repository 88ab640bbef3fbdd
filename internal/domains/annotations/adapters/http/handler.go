package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Apurer/go-annotation-service/internal/domains/annotations/adapters/http/mapper"
	"github.com/Apurer/go-annotation-service/internal/domains/annotations/domain"
	"github.com/Apurer/go-annotation-service/internal/domains/annotations/ports"
	apierrors "github.com/Apurer/go-annotation-service/internal/shared/errors"
)

// AnnotationAPI wires HTTP transport with the annotations bounded context
// service.
type AnnotationAPI struct {
	service   ports.Service
	responder *apierrors.ChainedResponder
}

// NewAnnotationAPI creates an AnnotationAPI backed by the provided
// service.
func NewAnnotationAPI(service ports.Service) *AnnotationAPI {
	return &AnnotationAPI{
		service:   service,
		responder: apierrors.NewChainedResponder("", mapDomainError),
	}
}

// Register mounts the annotation routes on the engine.
func (api *AnnotationAPI) Register(r *gin.Engine) {
	v1 := r.Group("/v1")
	{
		v1.GET("/annotations/:handle", api.GetAnnotation)
		v1.POST("/annotations/:handle/discover", api.DiscoverSubject)
		v1.POST("/annotations/:handle/resolve", api.ResolveSubject)
		v1.POST("/annotations/:handle/retry", api.RetrySubject)
		v1.GET("/ratelimit", api.GetRateLimit)
		v1.POST("/ratelimit/clear", api.ClearRateLimit)
		v1.GET("/settings", api.GetSettings)
		v1.PUT("/settings", api.UpdateSettings)
		v1.DELETE("/cache", api.PurgeCache)
	}
	r.GET("/healthz", api.Health)
	r.NoRoute(api.NoRoute)
}

// Get /v1/annotations/:handle
// Report the subject's annotation state without starting anything
func (api *AnnotationAPI) GetAnnotation(c *gin.Context) {
	status, err := api.service.Status(c.Request.Context(), c.Param("handle"))
	if err != nil {
		api.responder.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.FromSubjectStatus(status))
}

// Post /v1/annotations/:handle/discover
// Make sure the subject is resolved or resolving, without waiting
func (api *AnnotationAPI) DiscoverSubject(c *gin.Context) {
	status, err := api.service.Discover(c.Request.Context(), c.Param("handle"))
	if err != nil {
		api.responder.RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, mapper.FromSubjectStatus(status))
}

// Post /v1/annotations/:handle/resolve
// Resolve the subject, waiting for a terminal outcome
func (api *AnnotationAPI) ResolveSubject(c *gin.Context) {
	handle := c.Param("handle")
	summary, err := api.service.Resolve(c.Request.Context(), handle)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnavailable):
			status, statusErr := api.service.Status(c.Request.Context(), handle)
			if statusErr != nil {
				status = domain.SubjectStatus{Handle: handle}
			}
			api.responder.Respond(c, apierrors.NewUnavailableProblem(status.Handle, status.CooldownUntil))
		case errors.Is(err, context.DeadlineExceeded):
			api.responder.Respond(c, apierrors.NewTimeoutProblem(handle))
		default:
			api.responder.RespondError(c, err)
		}
		return
	}
	if summary == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, mapper.FromDomainSummary(summary))
}

// Post /v1/annotations/:handle/retry
// Clear the shared pause and fetch the subject immediately
func (api *AnnotationAPI) RetrySubject(c *gin.Context) {
	if err := api.service.RetryNow(c.Request.Context(), c.Param("handle")); err != nil {
		api.responder.RespondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// Get /v1/ratelimit
// Describe the shared pause and engine occupancy
func (api *AnnotationAPI) GetRateLimit(c *gin.Context) {
	c.JSON(http.StatusOK, mapper.FromRateLimitStatus(api.service.RateLimit(c.Request.Context())))
}

// Post /v1/ratelimit/clear
// Lift the shared pause and wake every waiter
func (api *AnnotationAPI) ClearRateLimit(c *gin.Context) {
	api.service.ClearRateLimit(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// Get /v1/settings
// Report the fetch parameters currently applied
func (api *AnnotationAPI) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, mapper.FromFetchParams(api.service.Settings(c.Request.Context())))
}

// Put /v1/settings
// Apply new fetch parameters; absent fields keep their current values
func (api *AnnotationAPI) UpdateSettings(c *gin.Context) {
	var payload mapper.MutationSettings
	if err := c.ShouldBindJSON(&payload); err != nil {
		api.responder.BadRequest(c, err.Error())
		return
	}
	params := mapper.ToFetchParams(api.service.Settings(c.Request.Context()), payload)
	if err := api.service.UpdateSettings(c.Request.Context(), params); err != nil {
		api.responder.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.FromFetchParams(params))
}

// Delete /v1/cache
// Clear every cached annotation
func (api *AnnotationAPI) PurgeCache(c *gin.Context) {
	if err := api.service.PurgeCache(c.Request.Context()); err != nil {
		api.responder.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Get /healthz
func (api *AnnotationAPI) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// NoRoute answers unknown paths with a problem document instead of gin's
// plain 404.
func (api *AnnotationAPI) NoRoute(c *gin.Context) {
	api.responder.Respond(c, apierrors.ErrNotFound.WithDetail("no such route"))
}

func mapDomainError(err error) (apierrors.ProblemDetail, bool) {
	switch {
	case errors.Is(err, domain.ErrEmptyHandle),
		errors.Is(err, domain.ErrInvalidWindow),
		errors.Is(err, domain.ErrInvalidSampleLimit):
		return apierrors.ErrValidation.WithDetail(err.Error()), true
	case errors.Is(err, domain.ErrUnavailable):
		return apierrors.ErrUnavailable.WithDetail(err.Error()), true
	}
	return apierrors.ProblemDetail{}, false
}
