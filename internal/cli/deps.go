package cli

import (
	"github.com/neverdownhq/neverdown/internal/audit"
	"github.com/neverdownhq/neverdown/internal/config"
	"github.com/neverdownhq/neverdown/internal/detective"
	"github.com/neverdownhq/neverdown/internal/ghost"
	"github.com/neverdownhq/neverdown/internal/llm"
	"github.com/neverdownhq/neverdown/internal/logging"
	"github.com/neverdownhq/neverdown/internal/pipeline"
	"github.com/neverdownhq/neverdown/internal/publisher"
	"github.com/neverdownhq/neverdown/internal/reasoner"
	"github.com/neverdownhq/neverdown/internal/sandbox"
	"github.com/neverdownhq/neverdown/internal/sanitize"
	"github.com/neverdownhq/neverdown/internal/store"
	"github.com/neverdownhq/neverdown/internal/verifier"

	"github.com/prometheus/client_golang/prometheus"
)

// buildOrchestrator assembles the five pipeline stages and their stores into
// a ready orchestrator. Both serve and run go through here so a single-shot
// run exercises exactly the code the server does.
func buildOrchestrator(settings *config.Settings, st *store.Store) (*pipeline.Orchestrator, error) {
	provider, err := llm.New(settings.LLM)
	if err != nil {
		return nil, err
	}

	host := ghost.New(settings.GitHub)
	runner := sandbox.NewRunner(settings.Sandbox, sandbox.WithLogger(logging.New("sandbox")))
	auditor := audit.New(st.Audit, logging.New("audit"))

	deps := pipeline.Deps{
		Incidents:     st.Incidents,
		Artifacts:     st.Artifacts,
		Patches:       st.Patches,
		Verifications: st.Verifications,
		PullRequests:  st.PullRequests,

		Sanitizer: sanitize.NewSanitizer(settings.Sanitizer, sanitize.WithLogger(logging.New("sanitizer"))),
		Detective: detective.New(detective.WithLogger(logging.New("detective"))),
		Reasoner:  reasoner.New(provider, settings.LLM, settings.Reasoner, reasoner.WithLogger(logging.New("reasoner"))),
		Verifier:  verifier.New(runner, settings.Workspace, settings.Sandbox, verifier.WithLogger(logging.New("verifier"))),
		Publisher: publisher.New(host, settings.Publisher, publisher.WithLogger(logging.New("publisher"))),

		Audit:   auditor,
		Metrics: pipeline.NewMetrics(prometheus.DefaultRegisterer),
		Logger:  logging.New("pipeline"),
	}
	return pipeline.New(settings.Workspace, settings.Pipeline, deps), nil
}
