package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	claimdomain "github.com/smallbiznis/medaudit/internal/claim/domain"
	tracedomain "github.com/smallbiznis/medaudit/internal/traceability/domain"
	"github.com/smallbiznis/medaudit/pkg/db/pagination"
)

const contextClaimRequestKey = "claim_request"

// createClaimRequest is the RIPS payload handed off by the ingestion layer.
type createClaimRequest = claimdomain.SaveRequest

func (s *Server) CreateClaim(c *gin.Context) {
	var req *createClaimRequest
	if bound, ok := c.Get(contextClaimRequestKey); ok {
		req, _ = bound.(*createClaimRequest)
	}
	if req == nil {
		req = &createClaimRequest{}
		if err := c.ShouldBindJSON(req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := s.claimSvc.Save(c.Request.Context(), *req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetClaim(c *gin.Context) {
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.claimSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListTraceability(c *gin.Context) {
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	// Unknown transactions answer 404 rather than an empty log.
	if _, err := s.claimSvc.GetByID(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.traceSvc.List(c.Request.Context(), tracedomain.ListRequest{
		Pagination:         query,
		ClaimTransactionID: id,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func parseID(raw, field string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, newValidationError(field, "invalid_"+field, "invalid "+field)
	}
	return id, nil
}
