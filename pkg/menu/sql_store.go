package menu

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/govrec/govrec/pkg/audit"
	"github.com/govrec/govrec/pkg/security"
	"github.com/govrec/govrec/pkg/storage"
)

const nodeColumns = `id, code, name, name_en, parent_id, level, sort_order, url, icon,
	is_active, is_visible, created_by, updated_by, created_at, updated_at`

// SQLStore implements Store on the menus and menu_permissions tables
type SQLStore struct {
	db      *sql.DB
	dialect storage.Dialect
	actors  audit.ActorResolver
	now     func() time.Time
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a store on an open database. A nil resolver stamps
// changes with the context identity.
func NewSQLStore(db *sql.DB, dialect storage.Dialect, actors audit.ActorResolver) *SQLStore {
	if actors == nil {
		actors = audit.NewContextActorResolver()
	}
	return &SQLStore{
		db:      db,
		dialect: dialect,
		actors:  actors,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSchema creates the tables when missing
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect.Driver == storage.DriverPostgres {
		idColumn = "id BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS menus (
			` + idColumn + `,
			code        VARCHAR(50)  NOT NULL,
			name        VARCHAR(100) NOT NULL,
			name_en     VARCHAR(100) NOT NULL DEFAULT '',
			parent_id   BIGINT REFERENCES menus(id),
			level       INTEGER      NOT NULL,
			sort_order  INTEGER      NOT NULL DEFAULT 0,
			url         VARCHAR(255),
			icon        VARCHAR(50)  NOT NULL DEFAULT '',
			is_active   BOOLEAN      NOT NULL DEFAULT TRUE,
			is_visible  BOOLEAN      NOT NULL DEFAULT TRUE,
			created_by  VARCHAR(50)  NOT NULL DEFAULT 'system',
			updated_by  VARCHAR(50)  NOT NULL DEFAULT 'system',
			created_at  TIMESTAMP    NOT NULL,
			updated_at  TIMESTAMP    NOT NULL,
			CONSTRAINT menus_code_key UNIQUE (code)
		)`,
		`CREATE TABLE IF NOT EXISTS menu_permissions (
			` + idColumn + `,
			menu_id    BIGINT      NOT NULL REFERENCES menus(id) ON DELETE CASCADE,
			role_name  VARCHAR(50) NOT NULL,
			can_read   BOOLEAN     NOT NULL DEFAULT FALSE,
			can_write  BOOLEAN     NOT NULL DEFAULT FALSE,
			can_delete BOOLEAN     NOT NULL DEFAULT FALSE,
			CONSTRAINT menu_permissions_menu_role_key UNIQUE (menu_id, role_name)
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create menu schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) LoadAll(ctx context.Context) ([]Node, []Permission, error) {
	nodes, err := s.loadNodes(ctx)
	if err != nil {
		return nil, nil, err
	}
	perms, err := s.loadPermissions(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nodes, perms, nil
}

func (s *SQLStore) loadNodes(ctx context.Context) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+nodeColumns+` FROM menus ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query menus: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan menu: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read menus: %w", err)
	}
	return nodes, nil
}

func (s *SQLStore) loadPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, menu_id, role_name, can_read, can_write, can_delete
		FROM menu_permissions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query menu permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.MenuID, &p.RoleName, &p.CanRead, &p.CanWrite, &p.CanDelete); err != nil {
			return nil, fmt.Errorf("failed to scan menu permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read menu permissions: %w", err)
	}
	return perms, nil
}

func (s *SQLStore) SetActive(ctx context.Context, id int64, active bool) (Node, error) {
	return s.setFlag(ctx, "is_active", id, active)
}

func (s *SQLStore) SetVisible(ctx context.Context, id int64, visible bool) (Node, error) {
	return s.setFlag(ctx, "is_visible", id, visible)
}

// setFlag updates one boolean column; column is never caller input
func (s *SQLStore) setFlag(ctx context.Context, column string, id int64, value bool) (Node, error) {
	query := s.dialect.Rebind(`UPDATE menus SET ` + column + ` = ?, updated_by = ?, updated_at = ? WHERE id = ?`)
	result, err := s.db.ExecContext(ctx, query, value, s.actors.CurrentActor(ctx), s.now(), id)
	if err != nil {
		return Node{}, fmt.Errorf("failed to update menu: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return Node{}, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return Node{}, ErrMenuNotFound
	}

	node, err := scanNode(s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT `+nodeColumns+` FROM menus WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, ErrMenuNotFound
	}
	if err != nil {
		return Node{}, fmt.Errorf("failed to query menu: %w", err)
	}
	return node, nil
}

func (s *SQLStore) UpsertPermission(ctx context.Context, p Permission) (Permission, error) {
	p.RoleName = security.NormalizeRole(p.RoleName)

	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		INSERT INTO menu_permissions (menu_id, role_name, can_read, can_write, can_delete)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (menu_id, role_name) DO UPDATE SET
			can_read = excluded.can_read,
			can_write = excluded.can_write,
			can_delete = excluded.can_delete
		RETURNING id`),
		p.MenuID, p.RoleName, p.CanRead, p.CanWrite, p.CanDelete,
	).Scan(&p.ID)
	if err != nil {
		if storage.ForeignKeyViolation(err) {
			return Permission{}, ErrMenuNotFound
		}
		return Permission{}, fmt.Errorf("failed to upsert menu permission: %w", err)
	}
	return p, nil
}

func (s *SQLStore) DeletePermission(ctx context.Context, menuID int64, role string) error {
	result, err := s.db.ExecContext(ctx,
		s.dialect.Rebind(`DELETE FROM menu_permissions WHERE menu_id = ? AND role_name = ?`),
		menuID, security.NormalizeRole(role))
	if err != nil {
		return fmt.Errorf("failed to delete menu permission: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrPermissionNotFound
	}
	return nil
}

func (s *SQLStore) ReplaceAll(ctx context.Context, nodes []Node, perms []Permission) error {
	actor := s.actors.CurrentActor(ctx)
	now := s.now()

	// parents before children so the self-reference holds on every insert
	ordered := make([]Node, len(nodes))
	copy(ordered, nodes)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Level < ordered[j].Level })

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM menu_permissions`, `DELETE FROM menus`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear menus: %w", err)
		}
	}

	insertNode := s.dialect.Rebind(`
		INSERT INTO menus (id, code, name, name_en, parent_id, level, sort_order, url, icon,
			is_active, is_visible, created_by, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, n := range ordered {
		if _, err := tx.ExecContext(ctx, insertNode,
			n.ID, n.Code, n.Name, n.NameEn, nullInt64(n.ParentID), n.Level, n.SortOrder, nullString(n.URL), n.Icon,
			n.Active, n.Visible, actor, actor, now, now,
		); err != nil {
			return fmt.Errorf("failed to insert menu %s: %w", n.Code, err)
		}
	}

	insertPerm := s.dialect.Rebind(`
		INSERT INTO menu_permissions (menu_id, role_name, can_read, can_write, can_delete)
		VALUES (?, ?, ?, ?, ?)`)
	for _, p := range perms {
		if _, err := tx.ExecContext(ctx, insertPerm,
			p.MenuID, security.NormalizeRole(p.RoleName), p.CanRead, p.CanWrite, p.CanDelete,
		); err != nil {
			return fmt.Errorf("failed to insert menu permission: %w", err)
		}
	}

	if s.dialect.Driver == storage.DriverPostgres {
		// explicit ids leave the serial sequence behind
		if _, err := tx.ExecContext(ctx,
			`SELECT setval(pg_get_serial_sequence('menus', 'id'), COALESCE(MAX(id), 1)) FROM menus`); err != nil {
			return fmt.Errorf("failed to reset menu sequence: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit menus: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(row rowScanner) (Node, error) {
	var (
		n        Node
		parentID sql.NullInt64
		url      sql.NullString
	)
	err := row.Scan(&n.ID, &n.Code, &n.Name, &n.NameEn, &parentID, &n.Level, &n.SortOrder, &url, &n.Icon,
		&n.Active, &n.Visible, &n.CreatedBy, &n.UpdatedBy, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return Node{}, err
	}
	if parentID.Valid {
		id := parentID.Int64
		n.ParentID = &id
	}
	if url.Valid {
		u := url.String
		n.URL = &u
	}
	return n, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
