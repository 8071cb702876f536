package middleware

import (
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"

	"rate-limit-engine/internal/domain"
	"rate-limit-engine/internal/iprange"
)

// IdentityExtractor monta a identidade a partir dos cabeçalhos da requisição
type IdentityExtractor struct {
	ClientIDHeader string
	RealIPHeader   string

	// AnonymousClientID agrupa as requisições sem client id numa cota comum
	AnonymousClientID string
}

// Extract monta a identidade. Falha só quando o endereço não pode ser lido.
func (e IdentityExtractor) Extract(c *gin.Context) (domain.Identity, error) {
	addr, err := e.ClientAddress(c)
	if err != nil {
		return domain.Identity{}, err
	}

	return domain.Identity{
		ClientID: e.ClientID(c),
		ClientIP: addr,
		HTTPVerb: c.Request.Method,
		Path:     c.Request.URL.Path,
	}, nil
}

// ClientID lê o client id do cabeçalho configurado. Sem cabeçalho vale o
// client id anônimo, quando configurado.
func (e IdentityExtractor) ClientID(c *gin.Context) string {
	var clientID string
	if e.ClientIDHeader != "" {
		clientID = strings.TrimSpace(c.GetHeader(e.ClientIDHeader))
	}
	if clientID == "" {
		return e.AnonymousClientID
	}
	return clientID
}

// ClientAddress usa o cabeçalho de IP real quando configurado e presente,
// senão o endereço da conexão
func (e IdentityExtractor) ClientAddress(c *gin.Context) (netip.Addr, error) {
	if e.RealIPHeader != "" {
		if value := c.GetHeader(e.RealIPHeader); value != "" {
			return iprange.ParseClientAddress(value)
		}
	}
	return iprange.ParseClientAddress(c.Request.RemoteAddr)
}
