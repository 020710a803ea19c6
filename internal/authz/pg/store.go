// Package authzpg provides the Postgres-backed adapters consumed by the
// authz resolver: role store, membership provider, resource directory and
// audit sink.
package authzpg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/praetor-io/praetor/internal/authz"
)

// Store implements authz.RoleStore, authz.MembershipProvider and
// authz.ResourceDirectory against the admin database.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store backed by the provided pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// GetPermissions returns the principal's grants within the tenant,
// deduplicated across roles.
func (s *Store) GetPermissions(ctx context.Context, principalID, tenantID string) ([]authz.Permission, error) {
	const query = `
		SELECT DISTINCT rp.action, rp.resource_type, rp.scope
		FROM role_assignments ra
		JOIN role_permissions rp ON rp.role_id = ra.role_id
		JOIN roles r ON r.id = ra.role_id
		WHERE ra.principal_id = $1
		  AND ra.tenant_id = $2
		  AND r.tenant_id = $2`
	rows, err := s.pool.Query(ctx, query, principalID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("authzpg: get permissions: %w", err)
	}
	defer rows.Close()

	var perms []authz.Permission
	for rows.Next() {
		var action, resource, scope string
		if err := rows.Scan(&action, &resource, &scope); err != nil {
			return nil, fmt.Errorf("authzpg: scan permission: %w", err)
		}
		perms = append(perms, authz.Permission{
			Action:   authz.Action(action),
			Resource: authz.ResourceType(resource),
			Scope:    authz.Scope(scope),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authzpg: iterate permissions: %w", err)
	}
	return perms, nil
}

// HasGlobalRole reports whether the principal holds a role without a tenant,
// i.e. a SuperAdmin-class role.
func (s *Store) HasGlobalRole(ctx context.Context, principalID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1
			FROM role_assignments ra
			JOIN roles r ON r.id = ra.role_id
			WHERE ra.principal_id = $1 AND r.tenant_id IS NULL
		)`
	var global bool
	if err := s.pool.QueryRow(ctx, query, principalID).Scan(&global); err != nil {
		return false, fmt.Errorf("authzpg: has global role: %w", err)
	}
	return global, nil
}

// GetEntityPath returns the principal's entity path within the tenant.
func (s *Store) GetEntityPath(ctx context.Context, principalID, tenantID string) (authz.EntityPath, error) {
	const query = `
		SELECT entity_path
		FROM tenant_memberships
		WHERE principal_id = $1 AND tenant_id = $2`
	var raw string
	err := s.pool.QueryRow(ctx, query, principalID, tenantID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, authz.ErrNotMember
	}
	if err != nil {
		return nil, fmt.Errorf("authzpg: get entity path: %w", err)
	}
	return authz.ParseEntityPath(raw), nil
}

// ResolveResource returns the tenant placement and owner of a resource. A
// missing row or a row without a tenant is reported as ErrResourceNotFound.
func (s *Store) ResolveResource(ctx context.Context, resource authz.ResourceType, resourceID string) (authz.ResourceAttributes, error) {
	const query = `
		SELECT COALESCE(tenant_id, ''), COALESCE(entity_path, ''), COALESCE(owner_id, '')
		FROM resources
		WHERE resource_type = $1 AND id = $2`
	var tenantID, rawPath, ownerID string
	err := s.pool.QueryRow(ctx, query, string(resource), resourceID).Scan(&tenantID, &rawPath, &ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return authz.ResourceAttributes{}, authz.ErrResourceNotFound
	}
	if err != nil {
		return authz.ResourceAttributes{}, fmt.Errorf("authzpg: resolve resource: %w", err)
	}
	if tenantID == "" {
		// Orphaned rows never act as "no constraint".
		return authz.ResourceAttributes{}, authz.ErrResourceNotFound
	}
	return authz.ResourceAttributes{
		TenantID:   tenantID,
		EntityPath: authz.ParseEntityPath(rawPath),
		OwnerID:    ownerID,
	}, nil
}

// AuditWriter persists audit events into authz_audit_log.
type AuditWriter struct {
	pool *pgxpool.Pool
}

// NewAuditWriter returns an AuditWriter.
func NewAuditWriter(pool *pgxpool.Pool) *AuditWriter {
	return &AuditWriter{pool: pool}
}

// Record inserts one event.
func (w *AuditWriter) Record(ctx context.Context, event authz.AuditEvent) error {
	if w == nil || w.pool == nil {
		return errors.New("authzpg: audit writer not initialised")
	}
	meta, err := json.Marshal(map[string]any{"from_cache": event.FromCache})
	if err != nil {
		return err
	}
	_, err = w.pool.Exec(ctx, `
		INSERT INTO authz_audit_log
			(id, principal_id, tenant_id, action, resource_type, resource_id, allowed, reason, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10)`,
		event.ID, event.PrincipalID, event.TenantID, string(event.Action), string(event.Resource),
		event.ResourceID, event.Allowed, string(event.Reason), meta, event.At)
	if err != nil {
		return fmt.Errorf("authzpg: record audit event: %w", err)
	}
	return nil
}
