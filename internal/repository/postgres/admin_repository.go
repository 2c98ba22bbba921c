package postgres

import (
	"context"
	"strings"

	"civic-shield/internal/models"
	"civic-shield/internal/schema"
)

// AdminRepository looks administrators up in whichever admins table exists.
type AdminRepository struct {
	resolver *schema.Resolver
	reader   *schema.Reader
	entity   schema.Entity
}

func NewAdminRepository(resolver *schema.Resolver, reader *schema.Reader, tablePattern string) *AdminRepository {
	return &AdminRepository{resolver: resolver, reader: reader, entity: schema.Admins.WithPattern(tablePattern)}
}

// FindByEmployeeID returns schema.ErrRowNotFound when no admin matches.
func (r *AdminRepository) FindByEmployeeID(ctx context.Context, employeeID string) (*models.AdminAccount, error) {
	m, err := r.resolver.Resolve(ctx, r.entity)
	if err != nil {
		return nil, err
	}

	row, err := r.reader.FindOne(ctx, m, schema.ListOptions{
		Fields: []schema.Field{
			schema.FieldID, schema.FieldEmployeeID, schema.FieldPassword,
			schema.FieldFullName, schema.FieldRole, schema.FieldIsActive,
		},
		Filters: map[schema.Field]any{schema.FieldEmployeeID: strings.TrimSpace(employeeID)},
	})
	if err != nil {
		return nil, err
	}

	return &models.AdminAccount{
		ID:         row.String(string(schema.FieldID)),
		EmployeeID: row.String(string(schema.FieldEmployeeID)),
		Password:   row.String(string(schema.FieldPassword)),
		FullName:   row.String(string(schema.FieldFullName)),
		Role:       row.String(string(schema.FieldRole)),
		Active:     row.Bool(string(schema.FieldIsActive), true),
	}, nil
}
