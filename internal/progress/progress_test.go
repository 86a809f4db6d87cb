package progress

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/airhist/airhist/internal/warehouse"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := warehouse.New(db).Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func TestGetLastDate_NoneRecorded(t *testing.T) {
	store := setupTestStore(t)

	_, ok, err := store.GetLastDate("Paris")
	if err != nil {
		t.Fatalf("GetLastDate: %v", err)
	}
	if ok {
		t.Error("ok = true for never-ingested city, want false")
	}
}

func TestSetAndGetLastDate(t *testing.T) {
	store := setupTestStore(t)
	date := time.Date(2023, 12, 3, 0, 0, 0, 0, time.UTC)

	if err := store.SetLastDate("Paris", date); err != nil {
		t.Fatalf("SetLastDate: %v", err)
	}

	got, ok, err := store.GetLastDate("Paris")
	if err != nil {
		t.Fatalf("GetLastDate: %v", err)
	}
	if !ok {
		t.Fatal("ok = false, want true")
	}
	if !got.Equal(date) {
		t.Errorf("date = %v, want %v", got, date)
	}

	// Advancing progress replaces the entry.
	later := date.AddDate(0, 0, 4)
	if err := store.SetLastDate("Paris", later); err != nil {
		t.Fatalf("SetLastDate: %v", err)
	}
	got, _, err = store.GetLastDate("Paris")
	if err != nil {
		t.Fatalf("GetLastDate: %v", err)
	}
	if !got.Equal(later) {
		t.Errorf("date = %v, want %v after update", got, later)
	}
}

func TestLastDate_PerCity(t *testing.T) {
	store := setupTestStore(t)

	if err := store.SetLastDate("Paris", time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	if err := store.SetLastDate("London", time.Date(2023, 11, 15, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}

	paris, _, err := store.GetLastDate("Paris")
	if err != nil {
		t.Fatal(err)
	}
	london, _, err := store.GetLastDate("London")
	if err != nil {
		t.Fatal(err)
	}
	if paris.Equal(london) {
		t.Error("per-city progress entries collided")
	}
}
