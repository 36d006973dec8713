package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mescon/desup/internal/db"
	"github.com/mescon/desup/internal/domain"
	"github.com/mescon/desup/internal/integration"
	"github.com/mescon/desup/internal/services"
)

// handleListScans returns the caller's scans, most recent first. A caller
// with no scan history gets one started as a side effect, so the response is
// never an empty list.
func (s *RESTServer) handleListScans(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		respondUnauthorized(c, nil)
		return
	}

	scans, err := s.workflow.ListOrCreate(c.Request.Context(), identity)
	if err != nil {
		respondDatabaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, scans)
}

// handleStartScan explicitly requests a new scan for the caller.
func (s *RESTServer) handleStartScan(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		respondUnauthorized(c, nil)
		return
	}

	scan, err := s.workflow.StartScan(c.Request.Context(), identity)
	if err != nil {
		if errors.Is(err, services.ErrActiveScanExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "A scan is already running for this user"})
			return
		}
		respondDatabaseError(c, err)
		return
	}
	c.JSON(http.StatusCreated, scan)
}

// resolveRequest is the body of a duplicate resolution call: which group in
// the scan, and which copy survives. Clients may echo the group's locations;
// the stored record stays authoritative over what actually gets deleted.
type resolveRequest struct {
	FileName   string                `json:"fileName" binding:"required"`
	FileToKeep string                `json:"fileToKeep" binding:"required"`
	Locations  []domain.FileLocation `json:"locations"`
}

// handleResolveDuplicate deletes the superseded copies of one duplicate group.
func (s *RESTServer) handleResolveDuplicate(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		respondUnauthorized(c, nil)
		return
	}

	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, false)
		return
	}

	err := s.reconciler.Resolve(c.Request.Context(), identity, services.ResolveRequest{
		ScanID:     c.Param("scanId"),
		FileName:   req.FileName,
		FileToKeep: req.FileToKeep,
	})
	if err != nil {
		s.respondResolveError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "success"})
}

// respondResolveError maps reconciler failures onto HTTP statuses.
func (s *RESTServer) respondResolveError(c *gin.Context, err error) {
	var pde *services.PartialDeleteError
	var de *integration.DelegationError

	switch {
	case errors.Is(err, db.ErrNotFound):
		respondNotFound(c, "Scan")
	case errors.Is(err, services.ErrDuplicateNotFound):
		respondNotFound(c, "Duplicate")
	case errors.Is(err, services.ErrInvalidSelection):
		respondBadRequest(c, err, true)
	case errors.As(err, &pde):
		// Some copies were deleted; the record keeps per-copy status so the
		// client can retry just the failures
		c.JSON(http.StatusBadGateway, gin.H{
			"error":       "Some file copies could not be deleted",
			"failedPaths": pde.FailedPaths,
		})
	case errors.As(err, &de):
		respondWithError(c, http.StatusBadGateway, ErrMsgUpstreamFailure, err)
	default:
		respondWithError(c, http.StatusInternalServerError, ErrMsgInternalError, err)
	}
}
