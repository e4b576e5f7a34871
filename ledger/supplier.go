package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// CreateSupplierInput is the data needed to register a supplier.
type CreateSupplierInput struct {
	Name        string `json:"supplierName" validate:"required,max=200"`
	BankName    string `json:"bankName" validate:"max=200"`
	BankAccount string `json:"bankAccount" validate:"max=100"`
	Notes       string `json:"notes" validate:"max=2000"`
}

// UpdateSupplierInput is a partial update. Nil fields are left unchanged.
// The outstanding balance is not writable here.
type UpdateSupplierInput struct {
	Name        *string `json:"supplierName" validate:"omitempty,min=1,max=200"`
	BankName    *string `json:"bankName" validate:"omitempty,max=200"`
	BankAccount *string `json:"bankAccount" validate:"omitempty,max=100"`
	Notes       *string `json:"notes" validate:"omitempty,max=2000"`
}

// CreateSupplier registers a supplier with a zero balance.
func (s *Service) CreateSupplier(ctx context.Context, in CreateSupplierInput) (Supplier, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return Supplier{}, err
	}

	now := s.now()
	supplier := Supplier{
		ID:               SupplierID(s.newID()),
		Name:             in.Name,
		BankName:         in.BankName,
		BankAccount:      in.BankAccount,
		Notes:            in.Notes,
		TotalOutstanding: decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.run(ctx, "create_supplier", nil, func(ctx context.Context, tx Tx) error {
		return tx.SaveSupplier(ctx, supplier)
	})
	if err != nil {
		return Supplier{}, err
	}
	s.log.Info().Str("supplier_id", string(supplier.ID)).Str("name", supplier.Name).Msg("supplier created")
	return supplier, nil
}

// UpdateSupplier changes supplier details. Existing procurements and ledger
// entries keep the name they were written with.
func (s *Service) UpdateSupplier(ctx context.Context, id SupplierID, in UpdateSupplierInput) (Supplier, error) {
	if in.Name != nil {
		trimmed := strings.TrimSpace(*in.Name)
		in.Name = &trimmed
	}
	if err := validateInput(in); err != nil {
		return Supplier{}, err
	}

	var updated Supplier
	err := s.run(ctx, "update_supplier", []SupplierID{id}, func(ctx context.Context, tx Tx) error {
		supplier, err := tx.GetSupplier(ctx, id)
		if err != nil {
			return err
		}
		if in.Name != nil {
			supplier.Name = *in.Name
		}
		if in.BankName != nil {
			supplier.BankName = *in.BankName
		}
		if in.BankAccount != nil {
			supplier.BankAccount = *in.BankAccount
		}
		if in.Notes != nil {
			supplier.Notes = *in.Notes
		}
		supplier.UpdatedAt = s.now()
		updated = supplier
		return tx.SaveSupplier(ctx, supplier)
	})
	if err != nil {
		return Supplier{}, err
	}
	return updated, nil
}

// ListSuppliers returns every supplier ordered by name.
func (s *Service) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	return s.store.ListSuppliers(ctx)
}

func (s *Service) GetSupplier(ctx context.Context, id SupplierID) (Supplier, error) {
	return s.store.GetSupplier(ctx, id)
}
