package jwttoken

import (
	"fmt"

	"ldgate/internal/entitlement/models"
	dErrors "ldgate/pkg/domain-errors"
)

// ToVerdict turns verified claims into a granted verdict, rejecting tokens
// minted for another product or seat.
func ToVerdict(claims *GrantClaims, req models.CheckRequest) (*models.Verdict, error) {
	if claims.CatalogItemID != req.Product.CatalogItemID || claims.ProductID != req.Product.ProductID {
		return nil, dErrors.New(dErrors.CodeUnauthorized,
			fmt.Sprintf("grant token is for %s/%s", claims.CatalogItemID, claims.ProductID))
	}
	if claims.MachineID != req.MachineID {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "grant token is for another machine")
	}

	verdict := &models.Verdict{
		Granted: true,
		GrantID: claims.GrantID(),
	}
	if claims.ExpiresAt != nil {
		verdict.ExpiresAt = claims.ExpiresAt.Time
	}
	return verdict, nil
}
