package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agent-passport/go-core/internal/token"
)

func (s *Server) handleJWKS(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=3600")
	c.JSON(http.StatusOK, gin.H{
		"keys": []map[string]string{s.minter.PublicJWK()},
	})
}

func (s *Server) handleOpenIDConfiguration(c *gin.Context) {
	base := "https://" + c.Request.Host
	c.Header("Cache-Control", "public, max-age=3600")
	c.JSON(http.StatusOK, gin.H{
		"issuer":                                token.Issuer,
		"authorization_endpoint":                base + "/v1/agents",
		"token_endpoint":                        base + "/v1/agents/{agent_id}/identity-token",
		"jwks_uri":                              base + "/.well-known/jwks.json",
		"introspection_endpoint":                base + "/v1/tokens/introspect",
		"id_token_signing_alg_values_supported": []string{"EdDSA"},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
