package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/medaudit/internal/authorization"
	obslogger "github.com/smallbiznis/medaudit/internal/observability/logger"
	"go.uber.org/zap"
)

type assignBatchRequest struct {
	PreGlosaIDs []string `json:"preGlosaIds"`
}

func (s *Server) AssignBatch(c *gin.Context) {
	var req assignBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ids := make([]snowflake.ID, 0, len(req.PreGlosaIDs))
	for _, raw := range req.PreGlosaIDs {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil || id <= 0 {
			AbortWithError(c, newValidationError("pre_glosa_ids", "invalid_pre_glosa_id", "invalid pre-glosa id"))
			return
		}
		ids = append(ids, id)
	}

	ctx := c.Request.Context()
	if err := s.authzSvc.Authorize(ctx, actorID(c), authorization.ObjectAssignment, authorization.ActionAssignmentBatch); err != nil {
		AbortWithError(c, err)
		return
	}

	roster, err := s.rosterSvc.List(ctx, true)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.assignmentSvc.AssignBatch(ctx, ids, roster)
	if err != nil {
		if resp == nil {
			AbortWithError(c, err)
			return
		}
		// Items committed before the failure stay bound; report them.
		status, payload := mapError(err)
		c.JSON(status, gin.H{"data": resp, "error": payload})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AuditorQueue(c *gin.Context) {
	resp, err := s.assignmentSvc.ListForAuditor(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type releaseItemRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) ReleaseAssignmentItem(c *gin.Context) {
	id, err := parseID(c.Param("preGlosaId"), "pre_glosa_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req releaseItemRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	ctx := c.Request.Context()
	if err := s.authzSvc.Authorize(ctx, actorID(c), authorization.ObjectAssignment, authorization.ActionAssignmentRelease); err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.assignmentSvc.ReleaseItem(ctx, id, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// The release is already committed; a failed settle only leaves the claim in audit.
	if _, err := s.glosaSvc.Settle(ctx, item.ClaimTransactionID); err != nil {
		obslogger.WithClaim(obslogger.WithContext(ctx, s.log), item.ClaimTransactionID.String()).
			Warn("claim state not settled after release", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}
