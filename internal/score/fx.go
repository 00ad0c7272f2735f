package score

import (
	"github.com/siteloom/growth/internal/score/service"
	"go.uber.org/fx"
)

var Module = fx.Module("score.service",
	fx.Provide(service.NewService),
)
