package repomanager

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestUsers_ReturnsBoundRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	m := NewPostgresRepositoryManager()
	if m.Users(db) == nil {
		t.Fatal("expected a users repository, got nil")
	}
}

func TestPostgresRepositoryManager_SatisfiesInterface(t *testing.T) {
	var _ RepositoryManager = NewPostgresRepositoryManager()
}
