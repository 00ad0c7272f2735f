package event

import (
	"github.com/siteloom/growth/internal/event/livefeed"
	"github.com/siteloom/growth/internal/event/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("event.store",
	fx.Provide(repository.NewRepository),
	fx.Provide(livefeed.NewHub),
)
