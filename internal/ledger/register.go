package ledger

import (
	"context"
	"fmt"

	"GuardianScope/internal/moderation"
	"GuardianScope/internal/signing"
)

// RegisterOperator walks an operator through stake and service registration
// with a proof of possession of its BLS key.
func RegisterOperator(ctx context.Context, admin Admin, holder *signing.LocalKeyHolder) error {
	op := holder.Operator()

	stake := moderation.Registration{Operator: op, State: moderation.StakeRegistered}
	if err := admin.Register(ctx, stake, nil); err != nil {
		return fmt.Errorf("stake registration:\n%w", err)
	}

	service := moderation.Registration{
		Operator:  op,
		State:     moderation.ServiceRegistered,
		PublicKey: holder.PublicKey(),
	}
	if err := admin.Register(ctx, service, holder.RegistrationProof()); err != nil {
		return fmt.Errorf("service registration:\n%w", err)
	}

	return nil
}
