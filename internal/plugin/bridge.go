package plugin

import (
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/transport/telegram/router"
)

// Plugins import only this package; the router and supervisor types they
// touch are re-exported here.
type (
	Supervisor     = rtsup.Supervisor
	CommandManager = router.CommandManager
	Command        = router.Command
	Request        = router.Request
	HandlerFunc    = router.HandlerFunc
)

const (
	AccessEveryone  = router.AccessEveryone
	AccessOwnerOnly = router.AccessOwnerOnly
)
