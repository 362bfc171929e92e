package data

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xjtu-toolbox/xjtutoolbox/data/db"
)

func tempPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "nested", "schedule.db")
}

func TestOpenCreatesCurrentSchema(t *testing.T) {
	ctx := context.Background()
	store, err := Open(tempPath(t))
	require.NoError(t, err)
	defer store.Close()

	v, err := store.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, DatabaseVersion, v)
	for _, table := range []string{"course", "courseinstance", "config", "term", "exam"} {
		assert.True(t, store.DB.Migrator().HasTable(table), table)
	}
	assert.True(t, store.DB.Migrator().HasColumn(&db.CourseInstance{}, "name"))
}

func TestConfigUpsert(t *testing.T) {
	ctx := context.Background()
	store, err := Open(tempPath(t))
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.GetConfig(ctx, KeyCurrentTerm)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetConfig(ctx, KeyCurrentTerm, "2023-2024-1"))
	require.NoError(t, store.SetConfig(ctx, KeyCurrentTerm, "2023-2024-2"))
	value, ok, err := store.GetConfig(ctx, KeyCurrentTerm)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2023-2024-2", value)

	var n int64
	require.NoError(t, store.DB.Model(&db.Config{}).Where(map[string]any{"key": KeyCurrentTerm}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestWalkUpAndDownKeepsData(t *testing.T) {
	ctx := context.Background()
	path := tempPath(t)

	old, err := Open(path, WithVersion(1))
	require.NoError(t, err)
	require.NoError(t, old.DB.Exec(`INSERT INTO "course" ("id", "name") VALUES (1, '高等数学')`).Error)
	require.NoError(t, old.DB.Exec(`INSERT INTO "courseinstance"
		("course_id", "day_of_week", "start_time", "end_time", "location", "teacher", "week_number", "term_number")
		VALUES (1, 3, 3, 4, 'East-101', '张老师', 5, '2023-2024-2')`).Error)
	require.NoError(t, old.Close())

	store, err := Open(path)
	require.NoError(t, err)
	v, err := store.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	var lessons []db.CourseInstance
	require.NoError(t, store.DB.Find(&lessons).Error)
	require.Len(t, lessons, 1)
	assert.Equal(t, "高等数学", lessons[0].Name)
	assert.Equal(t, "East-101", lessons[0].Location)
	assert.Equal(t, db.StatusUnknown, lessons[0].Status)
	require.NoError(t, store.Close())

	down, err := Open(path, WithVersion(2))
	require.NoError(t, err)
	defer down.Close()
	v, err = down.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.False(t, down.DB.Migrator().HasTable("exam"))
	assert.True(t, down.DB.Migrator().HasTable("term"))
	var n int64
	require.NoError(t, down.DB.Table("courseinstance").Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestLegacyFileWithoutMigrateBookkeeping(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "schedule.db")

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	schema, err := migrationsFS.ReadFile("migrations/1_init.up.sql")
	require.NoError(t, err)
	_, err = raw.Exec(string(schema))
	require.NoError(t, err)
	_, err = raw.Exec(`INSERT INTO "config" ("key", "value") VALUES
		('database_version', '1'), ('current_term', '2023-2024-2'), ('start_of_term', '2024-2-26')`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()
	v, err := store.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, DatabaseVersion, v)

	var term db.Term
	require.NoError(t, store.DB.First(&term, "term_number = ?", "2023-2024-2").Error)
	assert.Equal(t, "2024-2-26", term.StartDate)
}

func TestNewerDatabaseIsRefused(t *testing.T) {
	path := tempPath(t)
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.SetConfig(context.Background(), KeyDatabaseVersion, "9"))
	require.NoError(t, store.Close())

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrMigration)

	_, err = Open(tempPath(t), WithVersion(0))
	assert.ErrorIs(t, err, ErrMigration)
}
