package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) Classify(c *gin.Context) {
	id, err := parseID(c.Param("transactionId"), "transaction_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.preauditSvc.Classify(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetClassification(c *gin.Context) {
	id, err := parseID(c.Param("transactionId"), "transaction_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.preauditSvc.Results(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
