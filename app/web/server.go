package web

import (
	"net/http"

	"github.com/go-mizu/mizu"

	"github.com/litevault-dev/litevault/app/web/handler/api"
	"github.com/litevault-dev/litevault/pkg/objstore"
	"github.com/litevault-dev/litevault/pkg/replicate"
	"github.com/litevault-dev/litevault/store"
)

// Deps carries the collaborators the HTTP surface talks to.
type Deps struct {
	Store     store.Store
	Grid      objstore.Grid
	Config    replicate.Config
	Recoverer *replicate.StatefulRecoverer
	Service   *replicate.Service // nil until replication is set up
}

// NewServer creates the HTTP server for the voucher and replication API.
func NewServer(deps Deps) http.Handler {
	app := mizu.New()

	voucherHandler := api.NewVoucherHandler(deps.Store)
	tokenHandler := api.NewTokenHandler(deps.Store)
	replicaHandler := api.NewReplicaHandler(deps.Store, deps.Grid, deps.Config, deps.Recoverer, deps.Service)

	app.Get("/health", func(c *mizu.Ctx) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	app.Group("/api", func(r *mizu.Router) {
		// Vouchers
		r.Put("/voucher", voucherHandler.Redeem)
		r.Get("/voucher", voucherHandler.List)
		r.Get("/voucher/{number}", voucherHandler.Get)

		// Tokens
		r.Get("/unblinded-token", tokenHandler.List)

		// Replication
		r.Post("/replicate", replicaHandler.Setup)
		r.Get("/replicate", replicaHandler.Status)
		r.Post("/replicate/snapshot", replicaHandler.Snapshot)

		// Recovery
		r.Post("/recover", replicaHandler.Recover)
		r.Get("/recover", replicaHandler.RecoveryState)
	})

	return app
}
