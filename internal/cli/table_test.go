package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTable_AlignsColumns(t *testing.T) {
	tbl := NewTable("id", "status").
		AddRow("w1", "idle").
		AddRow("w10", "working")

	require.Equal(t, "ID   STATUS\nw1   idle\nw10  working\n", tbl.String())
}

func TestTable_WrapsLimitedColumn(t *testing.T) {
	tbl := NewTable("id", "goal").Limit(1, 10).
		AddRow("s1", "implement the cleanup manager")

	lines := strings.Split(strings.TrimRight(tbl.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	require.True(t, strings.HasPrefix(lines[1], "s1"))
	require.Equal(t, "    the", lines[2])
	require.Equal(t, "    manager", lines[4])
}

func TestTable_MissingCellsRenderEmpty(t *testing.T) {
	tbl := NewTable("a", "b").AddRow("only")

	lines := strings.Split(strings.TrimRight(tbl.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "only", lines[1])
}

func TestTable_Empty(t *testing.T) {
	tbl := NewTable("id")
	require.True(t, tbl.Empty())

	tbl.AddRow("x")
	require.False(t, tbl.Empty())
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "hello...", Truncate("hello world", 8))
	require.Equal(t, "hi", Truncate("hi", 8))
	require.Equal(t, "...", Truncate("hello", 3))
	require.Equal(t, "", Truncate("x", 0))
}

func TestFields_AlignsKeys(t *testing.T) {
	var sb strings.Builder
	f := NewFields().
		Add("goal", "ship it").
		Add("id", "s1")
	require.NoError(t, f.Render(&sb))

	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "goal  ship it", lines[0])
	require.Equal(t, "id    s1", lines[1])
}

func TestFields_WrapsLongValues(t *testing.T) {
	long := strings.Repeat("word ", 30)
	var sb strings.Builder
	require.NoError(t, NewFields().Add("goal", strings.TrimSpace(long)).Render(&sb))

	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	require.Greater(t, len(lines), 1)
	require.True(t, strings.HasPrefix(lines[0], "goal  word"))
	require.True(t, strings.HasPrefix(lines[1], "      word"))
}
