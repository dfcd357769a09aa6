package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/movienight/internal/database"
	"github.com/hitoshi/movienight/internal/model"
)

// newSQLiteDB はマイグレーション済みの一時SQLiteを開く。
func newSQLiteDB(t *testing.T) (*sql.DB, database.Dialect) {
	t.Helper()
	dbURL := "sqlite://" + filepath.Join(t.TempDir(), "movienight.db")
	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	db, dialect, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, dialect
}

// newPostgresDB は TEST_DATABASE_URL のPostgreSQLをマイグレーションし直して開く。
func newPostgresDB(t *testing.T) (*sql.DB, database.Dialect) {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}
	db, dialect, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	cleanupSQL := `
		DROP TABLE IF EXISTS schedule_entries CASCADE;
		DROP TABLE IF EXISTS guild_settings CASCADE;
		DROP TABLE IF EXISTS attendance CASCADE;
		DROP TABLE IF EXISTS schema_migrations CASCADE;
	`
	if _, err := db.Exec(cleanupSQL); err != nil {
		t.Fatalf("クリーンアップに失敗: %v", err)
	}
	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, dialect
}

func newSQLiteRepo(t *testing.T) *SQLEntryRepo {
	t.Helper()
	return NewSQLEntryRepo(newSQLiteDB(t))
}

func newPostgresRepo(t *testing.T) *SQLEntryRepo {
	t.Helper()
	return NewSQLEntryRepo(newPostgresDB(t))
}

func titles(entries []*model.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Title
	}
	return out
}

func int64Ptr(v int64) *int64 { return &v }

func TestSQLEntryRepo_ImplementsInterface(t *testing.T) {
	var _ EntryRepository = (*SQLEntryRepo)(nil)
}

func TestSQLEntryRepo_Rebind(t *testing.T) {
	pg := NewPostgresEntryRepo(nil)
	got := pg.rebind(`SELECT * FROM t WHERE a = ? AND b = ?`)
	if want := `SELECT * FROM t WHERE a = $1 AND b = $2`; got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}

	lite := NewSQLiteEntryRepo(nil)
	q := `SELECT * FROM t WHERE a = ?`
	if got := lite.rebind(q); got != q {
		t.Errorf("sqlite rebind = %q, want unchanged", got)
	}
}

func TestSQLEntryRepo_SQLite(t *testing.T) {
	runRepoContract(t, newSQLiteRepo)
}

func TestSQLEntryRepo_Postgres(t *testing.T) {
	runRepoContract(t, newPostgresRepo)
}

// runRepoContract はDialectに依存しないリポジトリの振る舞いを検証する。
func runRepoContract(t *testing.T, newRepo func(t *testing.T) *SQLEntryRepo) {
	ctx := context.Background()

	t.Run("Create_FindByID", func(t *testing.T) {
		repo := newRepo(t)
		e := &model.Entry{
			GuildID: "g1", Title: "Alien", ExternalID: int64Ptr(348),
			ReleaseYear: "1979", ReleaseDate: "1979-05-25", Date: "2025-03-08", AddedBy: "u1",
		}
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if e.ID == "" {
			t.Fatal("Create はIDを設定すべき")
		}

		got, err := repo.FindByID(ctx, "g1", e.ID)
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		want := *e
		want.Status = model.EntryStatusScheduled
		if diff := cmp.Diff(&want, got); diff != "" {
			t.Errorf("FindByID mismatch (-want +got):\n%s", diff)
		}

		other, err := repo.FindByID(ctx, "g2", e.ID)
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if other != nil {
			t.Error("他ギルドのエントリは取得できてはならない")
		}
	})

	t.Run("CreateBatch_OrderedAndScoped", func(t *testing.T) {
		repo := newRepo(t)
		batch := []*model.Entry{
			{GuildID: "g1", Title: "Alien", Date: "2025-03-15"},
			{GuildID: "g1", Title: "Aliens", Date: "2025-03-15"},
		}
		if err := repo.CreateBatch(ctx, batch); err != nil {
			t.Fatalf("CreateBatch failed: %v", err)
		}
		if err := repo.Create(ctx, &model.Entry{GuildID: "g1", Title: "Heat", Date: "2025-03-08"}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := repo.Create(ctx, &model.Entry{GuildID: "g2", Title: "Ran", Date: "2025-03-01"}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		got, err := repo.ListScheduled(ctx, "g1")
		if err != nil {
			t.Fatalf("ListScheduled failed: %v", err)
		}
		if diff := cmp.Diff([]string{"Heat", "Alien", "Aliens"}, titles(got)); diff != "" {
			t.Errorf("ListScheduled order mismatch (-want +got):\n%s", diff)
		}

		on, err := repo.ListScheduledOn(ctx, "g1", "2025-03-15")
		if err != nil {
			t.Fatalf("ListScheduledOn failed: %v", err)
		}
		if diff := cmp.Diff([]string{"Alien", "Aliens"}, titles(on)); diff != "" {
			t.Errorf("ListScheduledOn mismatch (-want +got):\n%s", diff)
		}

		guilds, err := repo.ListGuildIDs(ctx)
		if err != nil {
			t.Fatalf("ListGuildIDs failed: %v", err)
		}
		if diff := cmp.Diff([]string{"g1", "g2"}, guilds); diff != "" {
			t.Errorf("ListGuildIDs mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("CreateBatch_AllOrNothing", func(t *testing.T) {
		repo := newRepo(t)
		batch := []*model.Entry{
			{GuildID: "g1", Title: "Alien", Date: "2025-03-15"},
			{GuildID: "g1", Title: "Broken", Date: "2025-03-15", Status: "bogus"},
		}
		if err := repo.CreateBatch(ctx, batch); err == nil {
			t.Fatal("CHECK制約違反でエラーが返されるべき")
		}
		if batch[0].ID != "" {
			t.Error("失敗したバッチのエントリにIDが設定されてはならない")
		}

		got, err := repo.ListScheduled(ctx, "g1")
		if err != nil {
			t.Fatalf("ListScheduled failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("len(ListScheduled) = %d, want 0（1件も書き込まれてはならない）", len(got))
		}
	})

	t.Run("Archive_Reschedule_Delete", func(t *testing.T) {
		repo := newRepo(t)
		e1 := &model.Entry{GuildID: "g1", Title: "Alien", Date: "2025-03-08"}
		e2 := &model.Entry{GuildID: "g1", Title: "Heat", Date: "2025-03-15"}
		e3 := &model.Entry{GuildID: "g1", Title: "Ran", Date: "2025-03-22"}
		for _, e := range []*model.Entry{e1, e2, e3} {
			if err := repo.Create(ctx, e); err != nil {
				t.Fatalf("Create failed: %v", err)
			}
		}

		if err := repo.Archive(ctx, "g1", e1.ID, "2025-03-09"); err != nil {
			t.Fatalf("Archive failed: %v", err)
		}
		if err := repo.Archive(ctx, "g1", e2.ID, "2025-03-16"); err != nil {
			t.Fatalf("Archive failed: %v", err)
		}
		archived, err := repo.ListArchived(ctx, "g1")
		if err != nil {
			t.Fatalf("ListArchived failed: %v", err)
		}
		if diff := cmp.Diff([]string{"Heat", "Alien"}, titles(archived)); diff != "" {
			t.Errorf("ListArchived order mismatch (-want +got):\n%s", diff)
		}
		if archived[1].Date != "2025-03-09" {
			t.Errorf("archived date = %q, want %q", archived[1].Date, "2025-03-09")
		}

		if err := repo.Reschedule(ctx, "g1", e3.ID, "2025-04-05"); err != nil {
			t.Fatalf("Reschedule failed: %v", err)
		}
		got, err := repo.FindByID(ctx, "g1", e3.ID)
		if err != nil || got == nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if got.Date != "2025-04-05" {
			t.Errorf("date = %q, want %q", got.Date, "2025-04-05")
		}

		if err := repo.Reschedule(ctx, "g2", e3.ID, "2025-04-12"); !errors.Is(err, model.ErrEntryNotFound) {
			t.Errorf("他ギルドからの Reschedule err = %v, want ENTRY_NOT_FOUND", err)
		}

		if err := repo.Delete(ctx, "g1", e3.ID); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := repo.Delete(ctx, "g1", e3.ID); !errors.Is(err, model.ErrEntryNotFound) {
			t.Errorf("2回目の Delete err = %v, want ENTRY_NOT_FOUND", err)
		}
		if err := repo.Archive(ctx, "g1", "missing", "2025-03-09"); !errors.Is(err, model.ErrEntryNotFound) {
			t.Errorf("Archive(missing) err = %v, want ENTRY_NOT_FOUND", err)
		}
	})

	t.Run("ArchiveBefore", func(t *testing.T) {
		repo := newRepo(t)
		for _, e := range []*model.Entry{
			{GuildID: "g1", Title: "Old", Date: "2025-03-01"},
			{GuildID: "g1", Title: "Today", Date: "2025-03-08"},
			{GuildID: "g2", Title: "OtherGuild", Date: "2025-03-01"},
		} {
			if err := repo.Create(ctx, e); err != nil {
				t.Fatalf("Create failed: %v", err)
			}
		}

		n, err := repo.ArchiveBefore(ctx, "g1", "2025-03-08")
		if err != nil {
			t.Fatalf("ArchiveBefore failed: %v", err)
		}
		if n != 1 {
			t.Errorf("archived = %d, want 1", n)
		}
		scheduled, err := repo.ListScheduled(ctx, "g2")
		if err != nil {
			t.Fatalf("ListScheduled failed: %v", err)
		}
		if len(scheduled) != 1 {
			t.Errorf("他ギルドのエントリはアーカイブされてはならない: got %d", len(scheduled))
		}
	})
}
