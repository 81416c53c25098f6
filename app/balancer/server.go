package balancer

import (
	"net/http"

	"github.com/canopy-network/balancex/app/balancer/controller"
	"github.com/canopy-network/balancex/app/balancer/types"
	"go.uber.org/zap"
)

// NewServer builds the HTTP server of app.
func NewServer(app *types.App) error {
	ctler, err := controller.NewController(app)
	if err != nil {
		return err
	}
	router := ctler.NewRouter()

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := app.Config.Addr

	app.Server = &http.Server{Addr: addr, Handler: controller.WithCORS(router)}
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}
