package migration

import (
	"database/sql"
	"testing"
	"testing/fstest"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// testFS はテスト用のマイグレーションファイル群。
func testFS() fstest.MapFS {
	return fstest.MapFS{
		"migrations/000002_add_index.up.sql": {Data: []byte(`CREATE INDEX idx_items_name ON items(name);`)},
		"migrations/000001_init.up.sql":      {Data: []byte(`CREATE TABLE items (id TEXT PRIMARY KEY, name TEXT NOT NULL);`)},
		"migrations/000001_init.down.sql":    {Data: []byte(`DROP TABLE items;`)},
		"migrations/README.md":               {Data: []byte(`ignored`)},
		"migrations/noversion.up.sql":        {Data: []byte(`ignored`)},
	}
}

// openTestDB はインメモリSQLiteを開く。
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestCollect はマイグレーションファイルの収集と並び順を検証する。
func TestCollect(t *testing.T) {
	t.Parallel()

	files, err := Collect(testFS(), "migrations")
	if err != nil {
		t.Fatalf("Collect()でエラーが発生: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("ファイル数 = %d, want 2", len(files))
	}
	if files[0].Version != 1 || files[0].Name != "init" {
		t.Errorf("files[0] = %+v, want version=1 name=init", files[0])
	}
	if files[1].Path != "migrations/000002_add_index.up.sql" {
		t.Errorf("files[1].Path = %q", files[1].Path)
	}
}

// TestRun はマイグレーションの適用と再実行時のスキップを検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("未適用のマイグレーションがすべて適用されること", func(t *testing.T) {
		t.Parallel()
		db := openTestDB(t)

		n, err := Run(t.Context(), db, testFS(), "migrations", zap.NewNop())
		if err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		if n != 2 {
			t.Errorf("適用件数 = %d, want 2", n)
		}
		if _, err := db.Exec(`INSERT INTO items (id, name) VALUES ('a', 'b')`); err != nil {
			t.Errorf("マイグレーション後のテーブルに挿入できない: %v", err)
		}
	})

	t.Run("2回目の実行では何も適用されないこと", func(t *testing.T) {
		t.Parallel()
		db := openTestDB(t)

		if _, err := Run(t.Context(), db, testFS(), "migrations", zap.NewNop()); err != nil {
			t.Fatalf("1回目のRun()でエラーが発生: %v", err)
		}
		n, err := Run(t.Context(), db, testFS(), "migrations", zap.NewNop())
		if err != nil {
			t.Fatalf("2回目のRun()でエラーが発生: %v", err)
		}
		if n != 0 {
			t.Errorf("適用件数 = %d, want 0", n)
		}
	})

	t.Run("不正なSQLでエラーが返りバージョンが記録されないこと", func(t *testing.T) {
		t.Parallel()
		db := openTestDB(t)

		broken := fstest.MapFS{
			"m/000001_broken.up.sql": {Data: []byte(`CREATE TABL oops;`)},
		}
		if _, err := Run(t.Context(), db, broken, "m", zap.NewNop()); err == nil {
			t.Fatal("Run()がエラーを返すべきだが、nilが返った")
		}

		var count int
		if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
			t.Fatalf("schema_migrationsの参照に失敗: %v", err)
		}
		if count != 0 {
			t.Errorf("記録されたバージョン数 = %d, want 0", count)
		}
	})
}
