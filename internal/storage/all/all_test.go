package all

import (
	"database/sql"
	"reflect"
	"testing"

	"linegroup/internal/storage"
)

func TestBackendsRegistered(t *testing.T) {
	want := []string{"mssql", "postgres", "sqlite"}
	if got := storage.Kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Kinds()=%v, want %v", got, want)
	}

	found := false
	for _, d := range sql.Drivers() {
		if d == "sqlserver" {
			found = true
		}
	}
	if !found {
		t.Fatalf("sqlserver driver not registered: %v", sql.Drivers())
	}
}
