package gateway

import (
	"context"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/onboard"
)

// onboardProject materializes a freshly registered project's repository in
// the background and flips it to ready/error on completion, so a slow
// clone of a large repository doesn't block the project-create HTTP
// response.
func (s *Server) onboardProject(project *core.Project) {
	go func() {
		ctx := context.Background()
		err := onboard.Materialize(ctx, s.cfg.DataDir, project)
		if _, updateErr := s.registry.Update(ctx, project.ID, func(p *core.Project) error {
			if err != nil {
				p.MarkError(err.Error())
			} else {
				p.MarkReady()
			}
			return nil
		}); updateErr != nil {
			s.logger.Error("gateway: recording project onboarding result failed",
				"project_id", string(project.ID), "error", updateErr)
		}
		if err != nil {
			s.logger.Error("gateway: project onboarding failed", "project_id", string(project.ID), "error", err)
		} else {
			s.logger.Info("gateway: project ready", "project_id", string(project.ID))
		}
	}()
}
