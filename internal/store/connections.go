package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/grantlink/internal/access"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const connectionColumns = `c.id, c.agency_id, c.connection_link_id, c.access_type, c.granted_accesses, c.version`

// FindConnection returns the record of link linkID whose identity for
// platform p is externalUserID. Returns ErrNotFound if none exists.
func (s *Store) FindConnection(ctx context.Context, linkID string, p access.Platform, externalUserID string) (access.ConnectionResult, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.ConnectionResult{}, fmt.Errorf("find connection: begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, s.q(`
		SELECT `+connectionColumns+`
		FROM connection_results c
		JOIN connection_identities i ON i.connection_id = c.id
		WHERE i.connection_link_id = ? AND i.platform = ? AND i.external_user_id = ?
	`), linkID, string(p), externalUserID)

	rec, err := s.scanWithIdentities(ctx, tx, row)
	if err != nil {
		return access.ConnectionResult{}, fmt.Errorf("find connection link=%s platform=%s: %w", linkID, p, err)
	}
	return rec, nil
}

// GetConnection returns the record with the given id.
func (s *Store) GetConnection(ctx context.Context, id string) (access.ConnectionResult, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.ConnectionResult{}, fmt.Errorf("get connection: begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, s.q(`
		SELECT `+connectionColumns+`
		FROM connection_results c
		WHERE c.id = ?
	`), id)

	rec, err := s.scanWithIdentities(ctx, tx, row)
	if err != nil {
		return access.ConnectionResult{}, fmt.Errorf("get connection %s: %w", id, err)
	}
	return rec, nil
}

// ListConnections returns every record of a connection link ordered by id.
// Returns an empty slice (not nil) when there are none.
func (s *Store) ListConnections(ctx context.Context, linkID string) ([]access.ConnectionResult, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list connections: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, s.q(`
		SELECT `+connectionColumns+`
		FROM connection_results c
		WHERE c.connection_link_id = ?
		ORDER BY c.id ASC
	`), linkID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}

	recs := []access.ConnectionResult{}
	for rows.Next() {
		rec, err := scanConnection(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("list connections: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list connections: %w", err)
	}
	rows.Close()

	for i := range recs {
		ids, err := s.loadIdentities(ctx, tx, recs[i].ID)
		if err != nil {
			return nil, fmt.Errorf("list connections: %w", err)
		}
		recs[i].PlatformUserIDs = ids
	}
	return recs, nil
}

// CreateConnection writes a new record and its identities in one
// transaction. The stored record starts at version 1.
func (s *Store) CreateConnection(ctx context.Context, rec access.ConnectionResult) (access.ConnectionResult, error) {
	if rec.ID == "" {
		return access.ConnectionResult{}, fmt.Errorf("create connection: id is required")
	}
	grants, err := marshalGrants(rec.GrantedAccesses)
	if err != nil {
		return access.ConnectionResult{}, fmt.Errorf("create connection: %w", err)
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.ConnectionResult{}, fmt.Errorf("create connection: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO connection_results
		(id, agency_id, connection_link_id, access_type, granted_accesses, version)
		VALUES (?, ?, ?, ?, ?, 1)
	`), rec.ID, rec.AgencyID, rec.ConnectionLinkID, string(rec.AccessType), grants)
	if err != nil {
		if isUniqueViolation(err) {
			return access.ConnectionResult{}, fmt.Errorf("create connection %s: %w", rec.ID, ErrAlreadyExists)
		}
		return access.ConnectionResult{}, fmt.Errorf("create connection %s: %w", rec.ID, err)
	}

	if err := s.syncIdentities(ctx, tx, rec); err != nil {
		return access.ConnectionResult{}, fmt.Errorf("create connection %s: %w", rec.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return access.ConnectionResult{}, fmt.Errorf("create connection %s: commit: %w", rec.ID, err)
	}

	out := rec.Clone()
	out.Version = 1
	return out, nil
}

// UpdateConnection persists rec if its version still matches the stored one.
// agency_id and connection_link_id are immutable and never rewritten.
func (s *Store) UpdateConnection(ctx context.Context, rec access.ConnectionResult) (access.ConnectionResult, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.ConnectionResult{}, fmt.Errorf("update connection: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.updateTx(ctx, tx, rec); err != nil {
		return access.ConnectionResult{}, fmt.Errorf("update connection %s: %w", rec.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return access.ConnectionResult{}, fmt.Errorf("update connection %s: commit: %w", rec.ID, err)
	}

	out := rec.Clone()
	out.Version = rec.Version + 1
	return out, nil
}

// DeleteConnection removes a record and its identities. Deleting a missing
// record is not an error.
func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete connection: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := s.deleteTx(ctx, tx, id); err != nil {
		return fmt.Errorf("delete connection %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete connection %s: commit: %w", id, err)
	}
	return nil
}

// MergeConnections deletes the absorbed record and persists survivor in a
// single transaction. The absorbed record's identities are released before
// the survivor's are written, so the survivor may take them over.
func (s *Store) MergeConnections(ctx context.Context, survivor access.ConnectionResult, absorbedID string) (access.ConnectionResult, error) {
	if survivor.ID == absorbedID {
		return access.ConnectionResult{}, fmt.Errorf("merge connection %s into itself", absorbedID)
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.ConnectionResult{}, fmt.Errorf("merge connections: begin tx: %w", err)
	}
	defer tx.Rollback()

	deleted, err := s.deleteTx(ctx, tx, absorbedID)
	if err != nil {
		return access.ConnectionResult{}, fmt.Errorf("merge connections: %w", err)
	}
	if !deleted {
		return access.ConnectionResult{}, fmt.Errorf("merge connections: absorbed %s: %w", absorbedID, ErrNotFound)
	}

	if err := s.updateTx(ctx, tx, survivor); err != nil {
		return access.ConnectionResult{}, fmt.Errorf("merge connections: survivor %s: %w", survivor.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return access.ConnectionResult{}, fmt.Errorf("merge connections: commit: %w", err)
	}

	out := survivor.Clone()
	out.Version = survivor.Version + 1
	return out, nil
}

func (s *Store) updateTx(ctx context.Context, tx *sql.Tx, rec access.ConnectionResult) error {
	grants, err := marshalGrants(rec.GrantedAccesses)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE connection_results
		SET access_type = ?, granted_accesses = ?, version = version + 1
		WHERE id = ? AND version = ?
	`), string(rec.AccessType), grants, rec.ID, rec.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var current int64
		err := tx.QueryRowContext(ctx, s.q(`SELECT version FROM connection_results WHERE id = ?`), rec.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("version %d, stored %d: %w", rec.Version, current, ErrStaleRecord)
	}

	return s.syncIdentities(ctx, tx, rec)
}

func (s *Store) deleteTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM connection_identities WHERE connection_id = ?`), id); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM connection_results WHERE id = ?`), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// syncIdentities makes the identity rows of rec match rec.PlatformUserIDs.
func (s *Store) syncIdentities(ctx context.Context, tx *sql.Tx, rec access.ConnectionResult) error {
	existing, err := s.loadIdentities(ctx, tx, rec.ID)
	if err != nil {
		return err
	}

	for p := range existing {
		if _, ok := rec.UserID(p); ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, s.q(`
			DELETE FROM connection_identities WHERE connection_id = ? AND platform = ?
		`), rec.ID, string(p)); err != nil {
			return err
		}
	}

	for _, p := range rec.Platforms() {
		userID, _ := rec.UserID(p)
		if existing[p] == userID {
			continue
		}
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO connection_identities
			(connection_id, platform, connection_link_id, external_user_id)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (connection_id, platform)
			DO UPDATE SET external_user_id = excluded.external_user_id
		`), rec.ID, string(p), rec.ConnectionLinkID, userID)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("platform %s user %s: %w", p, userID, ErrDuplicateIdentity)
			}
			return err
		}
	}
	return nil
}

func (s *Store) loadIdentities(ctx context.Context, q queryer, id string) (map[access.Platform]string, error) {
	rows, err := q.QueryContext(ctx, s.q(`
		SELECT platform, external_user_id
		FROM connection_identities
		WHERE connection_id = ?
		ORDER BY platform ASC
	`), id)
	if err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}
	defer rows.Close()

	ids := map[access.Platform]string{}
	for rows.Next() {
		var p, userID string
		if err := rows.Scan(&p, &userID); err != nil {
			return nil, fmt.Errorf("load identities: %w", err)
		}
		ids[access.Platform(p)] = userID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}
	return ids, nil
}

func (s *Store) scanWithIdentities(ctx context.Context, q queryer, row *sql.Row) (access.ConnectionResult, error) {
	rec, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return access.ConnectionResult{}, ErrNotFound
	}
	if err != nil {
		return access.ConnectionResult{}, err
	}
	ids, err := s.loadIdentities(ctx, q, rec.ID)
	if err != nil {
		return access.ConnectionResult{}, err
	}
	rec.PlatformUserIDs = ids
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (access.ConnectionResult, error) {
	var (
		rec        access.ConnectionResult
		accessType string
		grants     string
	)
	if err := row.Scan(&rec.ID, &rec.AgencyID, &rec.ConnectionLinkID, &accessType, &grants, &rec.Version); err != nil {
		return access.ConnectionResult{}, err
	}
	rec.AccessType = access.AccessType(accessType)

	decoded, err := unmarshalGrants(grants)
	if err != nil {
		return access.ConnectionResult{}, fmt.Errorf("connection %s: %w", rec.ID, err)
	}
	rec.GrantedAccesses = decoded
	return rec, nil
}

func marshalGrants(grants map[access.Platform][]access.GrantedAccess) (string, error) {
	if grants == nil {
		grants = map[access.Platform][]access.GrantedAccess{}
	}
	// Lists are stored as-is; nil lists become [] so every platform key
	// round-trips as an empty list.
	normalized := make(map[access.Platform][]access.GrantedAccess, len(grants))
	for p, list := range grants {
		if list == nil {
			list = []access.GrantedAccess{}
		}
		normalized[p] = list
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("marshal granted accesses: %w", err)
	}
	return string(data), nil
}

func unmarshalGrants(data string) (map[access.Platform][]access.GrantedAccess, error) {
	grants := map[access.Platform][]access.GrantedAccess{}
	if data == "" {
		return grants, nil
	}
	if err := json.Unmarshal([]byte(data), &grants); err != nil {
		return nil, fmt.Errorf("unmarshal granted accesses: %w", err)
	}
	for p, list := range grants {
		if list == nil {
			grants[p] = []access.GrantedAccess{}
		}
	}
	return grants, nil
}
