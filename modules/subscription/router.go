package subscription

import (
	"github.com/go-chi/chi/v5"
)

// Router builds the module's routes.
//
// Example:
//
//	svc := subscription.NewService(engine, checkout, reconciler, log)
//	r := chi.NewRouter()
//	r.Mount("/", subscription.Router(svc, subscription.HeaderSubjectResolver("X-User-Sub")))
func Router(svc *Service, resolve SubjectResolver) chi.Router {
	r := chi.NewRouter()

	r.Route("/subscription", func(sr chi.Router) {
		// Token- and session-authenticated endpoints: the checkout session
		// id and the signed summary token are the credentials here.
		sr.Post("/confirm", svc.handleConfirmCheckout)
		sr.Get("/confirm", svc.handleVerifyConfirmation)

		sr.Group(func(pr chi.Router) {
			pr.Use(RequireSubject(resolve))
			pr.Post("/checkout", svc.handleRequestChange)
			pr.Post("/revert", svc.handleRevert)
			pr.Get("/status", svc.handleStatus)
		})
	})

	// Signature-verified, never user-authenticated.
	r.Post("/webhooks/billing", svc.handleWebhook)

	return r
}
