package lot

import (
	"context"

	"github.com/google/uuid"
)

// ProductChecker answers whether a product exists and is active.
// Product CRUD lives outside this engine; only the boolean gate is needed
// before receiving stock.
type ProductChecker interface {
	IsActive(ctx context.Context, productID uuid.UUID) (bool, error)
}

// AgencyChecker answers whether an agency exists and is operational
type AgencyChecker interface {
	IsOperational(ctx context.Context, agencyID uuid.UUID) (bool, error)
}
