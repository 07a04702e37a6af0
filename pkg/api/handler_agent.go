package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// agentHandler handles GET /api/v1/agent. The card describes who the
// agent is and what capability surface the loaded plugins registered.
func (s *Server) agentHandler(c *echo.Context) error {
	character := s.rt.Character()
	return c.JSON(http.StatusOK, &AgentResponse{
		ID:         s.rt.AgentID().String(),
		Name:       character.Name,
		Bio:        character.Bio,
		Plugins:    s.rt.PluginNames(),
		Actions:    len(s.rt.Actions()),
		Providers:  len(s.rt.Providers()),
		Evaluators: len(s.rt.Evaluators()),
		Services:   s.rt.GetRegisteredServiceTypes(),
	})
}
