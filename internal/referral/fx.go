package referral

import (
	"github.com/siteloom/growth/internal/referral/repository"
	"github.com/siteloom/growth/internal/referral/service"
	"go.uber.org/fx"
)

var Module = fx.Module("referral.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
