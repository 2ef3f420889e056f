package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	glosadomain "github.com/smallbiznis/medaudit/internal/glosa/domain"
)

type applyGlosaRequest struct {
	Code          string `json:"code"`
	Value         int64  `json:"value"`
	Justification string `json:"justification"`
}

type respondGlosaRequest struct {
	ResponseType  glosadomain.ResponseType `json:"response_type"`
	AcceptedValue int64                    `json:"accepted_value"`
	Justification string                   `json:"justification"`
}

type decideGlosaRequest struct {
	Decision glosadomain.Decision `json:"decision"`
}

func (s *Server) ApplyGlosa(c *gin.Context) {
	var req applyGlosaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.glosaSvc.Apply(c.Request.Context(), glosadomain.ApplyRequest{
		ServiceRef:    c.Param("serviceRef"),
		Code:          req.Code,
		Value:         req.Value,
		Justification: req.Justification,
		Actor:         actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) RespondGlosa(c *gin.Context) {
	var req respondGlosaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.glosaSvc.Respond(c.Request.Context(), glosadomain.RespondRequest{
		ServiceRef:    c.Param("serviceRef"),
		ResponseType:  req.ResponseType,
		AcceptedValue: req.AcceptedValue,
		Justification: req.Justification,
		Actor:         actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DecideGlosa(c *gin.Context) {
	var req decideGlosaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.glosaSvc.Decide(c.Request.Context(), glosadomain.DecideRequest{
		ServiceRef: c.Param("serviceRef"),
		Decision:   req.Decision,
		Actor:      actorID(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetGlosa(c *gin.Context) {
	resp, err := s.glosaSvc.Get(c.Request.Context(), c.Param("serviceRef"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GlosaHistory(c *gin.Context) {
	resp, err := s.glosaSvc.History(c.Request.Context(), c.Param("serviceRef"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
