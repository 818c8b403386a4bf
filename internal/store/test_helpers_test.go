package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/grantlink/internal/access"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord creates a record with one attached identity.
func createTestRecord(id, linkID string, p access.Platform, userID string) access.ConnectionResult {
	r := access.NewConnectionResult(id, "agency-1", linkID, access.AccessManage, []access.Platform{"google", "meta"})
	r.SetUserID(p, userID)
	return r
}
