package actions

import (
	"time"

	"github.com/rendis/flowkit/internal/expressions"
	"github.com/rendis/flowkit/internal/store"
)

// BuiltinDeps are the collaborators of the built-in actions. Nil engines
// are created on demand.
type BuiltinDeps struct {
	Store    store.ObjectStore
	Resolver TemplateResolver
	Mail     MailConfig

	CEL  *expressions.CELEngine
	Expr *expressions.ExprEngine
	JQ   *expressions.GoJQEngine

	Now func() time.Time
}

// BuiltinActions returns a local implementation of every server-side
// behavior type.
func BuiltinActions(deps BuiltinDeps) ([]Action, error) {
	if deps.CEL == nil {
		cel, err := expressions.NewCELEngine()
		if err != nil {
			return nil, err
		}
		deps.CEL = cel
	}
	if deps.Expr == nil {
		deps.Expr = expressions.NewExprEngine()
	}
	if deps.JQ == nil {
		deps.JQ = expressions.NewGoJQEngine()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	mail := newMailer(deps.Mail)

	all := []Action{
		&validateRegistrationAction{cel: deps.CEL},
		&detectEmployerBillingAction{jq: deps.JQ},
		&calculatePricingAction{expr: deps.Expr},
		&checkEventCapacityAction{store: deps.Store},
		&updateStatisticsAction{store: deps.Store},
		&generateInvoiceAction{store: deps.Store, resolver: deps.Resolver, now: deps.Now},
		&consolidatedInvoiceAction{store: deps.Store, resolver: deps.Resolver, now: deps.Now},
		&sendConfirmationAction{mail: mail, resolver: deps.Resolver},
		&sendAdminNotificationAction{mail: mail},
	}
	for _, kind := range recordKinds {
		all = append(all, &recordAction{kind: kind, store: deps.Store, jq: deps.JQ})
	}
	return all, nil
}

// RegisterBuiltins registers every built-in action in reg.
func RegisterBuiltins(reg *Registry, deps BuiltinDeps) error {
	all, err := BuiltinActions(deps)
	if err != nil {
		return err
	}
	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}
