package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// Provisioning profiles and recipes. Both are small named catalogs with a
// unique-name constraint; a name collision maps to ErrConflict so the API
// layer can answer 409.

func scanProfile(row interface{ Scan(...interface{}) error }) (*types.ProvisioningProfile, error) {
	var (
		p    types.ProvisioningProfile
		desc sql.NullString
	)
	err := row.Scan(&p.ID, &p.Name, &desc, &p.Document, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Description = desc.String
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func validateProfile(p *types.ProvisioningProfile) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: profile name is required", ErrValidation)
	}
	if strings.TrimSpace(p.Document) == "" {
		return fmt.Errorf("%w: profile document is required", ErrValidation)
	}
	if !json.Valid([]byte(p.Document)) {
		return fmt.Errorf("%w: profile document is not valid JSON", ErrValidation)
	}
	return nil
}

// CreateProfile stores a new provisioning profile. Missing ids are
// generated.
func (s *SQLStore) CreateProfile(ctx context.Context, p *types.ProvisioningProfile) error {
	if err := validateProfile(p); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := utc(time.Now())
	p.CreatedAt = now
	p.UpdatedAt = now

	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO provisioning_profiles
				(id, name, description, document, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.ID, p.Name, nullStr(p.Description), p.Document, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: profile %q already exists", ErrConflict, p.Name)
			}
			return fmt.Errorf("failed to create profile: %w", err)
		}
		return nil
	})
}

// GetProfile loads one profile by id.
func (s *SQLStore) GetProfile(ctx context.Context, id string) (*types.ProvisioningProfile, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, description, document, created_at, updated_at FROM provisioning_profiles WHERE id = ?", id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: profile %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", id, err)
	}
	return p, nil
}

// ListProfiles returns all profiles ordered by name.
func (s *SQLStore) ListProfiles(ctx context.Context) ([]*types.ProvisioningProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, description, document, created_at, updated_at FROM provisioning_profiles ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*types.ProvisioningProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// UpdateProfile replaces an existing profile's name, description and
// document.
func (s *SQLStore) UpdateProfile(ctx context.Context, p *types.ProvisioningProfile) error {
	if err := validateProfile(p); err != nil {
		return err
	}
	return s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE provisioning_profiles SET
				name = ?, description = ?, document = ?, updated_at = ?
			WHERE id = ?`,
			p.Name, nullStr(p.Description), p.Document, utc(time.Now()), p.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: profile %q already exists", ErrConflict, p.Name)
			}
			return fmt.Errorf("failed to update profile %s: %w", p.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: profile %s", ErrNotFound, p.ID)
		}
		return nil
	})
}

// DeleteProfile removes a profile.
func (s *SQLStore) DeleteProfile(ctx context.Context, id string) error {
	return s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM provisioning_profiles WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete profile %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: profile %s", ErrNotFound, id)
		}
		return nil
	})
}

func scanRecipe(row interface{ Scan(...interface{}) error }) (*types.Recipe, error) {
	var (
		r     types.Recipe
		desc  sql.NullString
		steps string
	)
	err := row.Scan(&r.ID, &r.Name, &desc, &steps, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Description = desc.String
	if err := json.Unmarshal([]byte(steps), &r.Steps); err != nil {
		return nil, fmt.Errorf("recipe %s has corrupt steps: %w", r.ID, err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func validateRecipe(r *types.Recipe) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: recipe name is required", ErrValidation)
	}
	if len(r.Steps) == 0 {
		return fmt.Errorf("%w: recipe needs at least one step", ErrValidation)
	}
	for i, step := range r.Steps {
		if step.Send == "" && step.Expect == "" {
			return fmt.Errorf("%w: recipe step %d is empty", ErrValidation, i)
		}
		if step.TimeoutSeconds < 0 {
			return fmt.Errorf("%w: recipe step %d has a negative timeout", ErrValidation, i)
		}
	}
	return nil
}

// CreateRecipe stores a new console automation recipe.
func (s *SQLStore) CreateRecipe(ctx context.Context, r *types.Recipe) error {
	if err := validateRecipe(r); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := utc(time.Now())
	r.CreatedAt = now
	r.UpdatedAt = now

	steps, err := json.Marshal(r.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode recipe steps: %w", err)
	}
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO recipes
				(id, name, description, steps, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, r.Name, nullStr(r.Description), string(steps), r.CreatedAt, r.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: recipe %q already exists", ErrConflict, r.Name)
			}
			return fmt.Errorf("failed to create recipe: %w", err)
		}
		return nil
	})
}

// GetRecipe loads one recipe by id.
func (s *SQLStore) GetRecipe(ctx context.Context, id string) (*types.Recipe, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, description, steps, created_at, updated_at FROM recipes WHERE id = ?", id)
	r, err := scanRecipe(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: recipe %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recipe %s: %w", id, err)
	}
	return r, nil
}

// ListRecipes returns all recipes ordered by name.
func (s *SQLStore) ListRecipes(ctx context.Context) ([]*types.Recipe, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, description, steps, created_at, updated_at FROM recipes ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	defer rows.Close()

	var recipes []*types.Recipe
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipe: %w", err)
		}
		recipes = append(recipes, r)
	}
	return recipes, rows.Err()
}

// UpdateRecipe replaces an existing recipe.
func (s *SQLStore) UpdateRecipe(ctx context.Context, r *types.Recipe) error {
	if err := validateRecipe(r); err != nil {
		return err
	}
	steps, err := json.Marshal(r.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode recipe steps: %w", err)
	}
	return s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE recipes SET
				name = ?, description = ?, steps = ?, updated_at = ?
			WHERE id = ?`,
			r.Name, nullStr(r.Description), string(steps), utc(time.Now()), r.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: recipe %q already exists", ErrConflict, r.Name)
			}
			return fmt.Errorf("failed to update recipe %s: %w", r.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: recipe %s", ErrNotFound, r.ID)
		}
		return nil
	})
}

// DeleteRecipe removes a recipe.
func (s *SQLStore) DeleteRecipe(ctx context.Context, id string) error {
	return s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM recipes WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete recipe %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: recipe %s", ErrNotFound, id)
		}
		return nil
	})
}
