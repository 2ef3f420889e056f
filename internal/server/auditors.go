package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	rosterdomain "github.com/smallbiznis/medaudit/internal/roster/domain"
)

type upsertAuditorRequest struct {
	Name          string              `json:"name"`
	Roles         []rosterdomain.Role `json:"roles"`
	Specialties   []string            `json:"specialties"`
	DailyCapacity int                 `json:"daily_capacity"`
	Active        *bool               `json:"active"`
}

func (s *Server) UpsertAuditor(c *gin.Context) {
	var req upsertAuditorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	resp, err := s.rosterSvc.Upsert(c.Request.Context(), rosterdomain.UpsertRequest{
		ID:            strings.TrimSpace(c.Param("id")),
		Name:          strings.TrimSpace(req.Name),
		Roles:         req.Roles,
		Specialties:   req.Specialties,
		DailyCapacity: req.DailyCapacity,
		Active:        active,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListAuditors(c *gin.Context) {
	var query struct {
		Active *bool `form:"active"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.rosterSvc.List(c.Request.Context(), query.Active != nil && *query.Active)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetAuditor(c *gin.Context) {
	resp, err := s.rosterSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RecomputeAuditorLoad(c *gin.Context) {
	resp, err := s.rosterSvc.RecomputeLoad(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
