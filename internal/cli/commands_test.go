package cli_test

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/fastcollection/internal/cli"
)

// newSmallCLI returns a test CLI whose project config keeps files small and
// turns the background sweeper off.
func newSmallCLI(t *testing.T) *cli.CLI {
	t.Helper()

	c := cli.NewCLI(t)
	writeFile(t, c.Path(".fcol.json"), `{
		"initial_size": "64KiB",
		"max_size": "16MiB",
		"bucket_count": 64,
		"sweep_interval": "0s",
	}`)

	return c
}

func repl(t *testing.T, c *cli.CLI, kind, path string, script ...string) string {
	t.Helper()

	in := strings.NewReader(strings.Join(script, "\n") + "\n")

	stdout, stderr, code := c.RunWithInput(in, "repl", kind, path)
	require.Equal(t, 0, code, "repl failed, stderr: %s", stderr)

	return stdout
}

func Test_Create_Then_Info_Shows_Header_When_File_Is_New(t *testing.T) {
	t.Parallel()

	c := newSmallCLI(t)

	stdout := c.MustRun("create", "map", "m.fcl", "--buckets", "128")
	assert.Equal(t, "created map "+c.Path("m.fcl")+" (64KiB, 128 buckets)", stdout)

	info := c.MustRun("info", "m.fcl")
	cli.AssertContains(t, info, "kind=map")
	cli.AssertContains(t, info, "version=1")
	cli.AssertContains(t, info, "len=0")
	cli.AssertContains(t, info, "buckets=128")
	cli.AssertContains(t, info, "total_size=65536")
	cli.AssertContains(t, info, "max_size=16777216")

	stdout = c.MustRun("create", "list", "l.fcl", "--initial-size", "128KiB")
	assert.Equal(t, "created list "+c.Path("l.fcl")+" (128KiB)", stdout)

	info = c.MustRun("info", "l.fcl")
	cli.AssertContains(t, info, "kind=list")
	cli.AssertNotContains(t, info, "buckets=")
}

func Test_Create_Fails_When_File_Exists_Unless_Forced(t *testing.T) {
	t.Parallel()

	c := newSmallCLI(t)
	c.MustRun("create", "queue", "q.fcl")

	repl(t, c, "queue", "q.fcl", "offer a", "quit")

	stderr := c.MustFail("create", "queue", "q.fcl")
	cli.AssertContains(t, stderr, "already exists")

	c.MustRun("create", "queue", "q.fcl", "--force")

	cli.AssertContains(t, c.MustRun("info", "q.fcl"), "len=0")
}

func Test_Create_Fails_When_Kind_Is_Missing_Or_Unknown(t *testing.T) {
	t.Parallel()

	c := newSmallCLI(t)

	cli.AssertContains(t, c.MustFail("create"), "collection kind is required")
	cli.AssertContains(t, c.MustFail("create", "list"), "collection path is required")
	cli.AssertContains(t, c.MustFail("create", "tree", "t.fcl"), "tree")
	cli.AssertContains(t, c.MustFail("create", "list", "l.fcl", "--initial-size", "big"), "invalid size")
}

func Test_Check_Reports_Each_File_When_One_Is_Damaged(t *testing.T) {
	t.Parallel()

	c := newSmallCLI(t)
	c.MustRun("create", "set", "good.fcl")
	c.MustRun("create", "list", "bad.fcl")

	repl(t, c, "set", "good.fcl", "add x", "add y", "quit")

	data, err := os.ReadFile(c.Path("bad.fcl"))
	require.NoError(t, err)

	copy(data, "NOPE")
	require.NoError(t, os.WriteFile(c.Path("bad.fcl"), data, 0o600))

	stdout, stderr, code := c.Run("check", "good.fcl", "bad.fcl")

	assert.Equal(t, 1, code)
	cli.AssertContains(t, stdout, "ok good.fcl (2 live elements)")
	cli.AssertContains(t, stdout, "FAIL bad.fcl:")
	cli.AssertContains(t, stderr, "check failed: 1 of 2 files")

	cli.AssertContains(t, c.MustRun("check", "good.fcl"), "ok good.fcl")
}

func Test_Sweep_Removes_Expired_Elements_When_Run(t *testing.T) {
	t.Parallel()

	c := newSmallCLI(t)

	out := repl(t, c, "map", "m.fcl", "put keep 1", "put gone 2 1ns", "quit")
	assert.Equal(t, "OK\nOK\n", out)

	assert.Equal(t, "removed=1 len=1", c.MustRun("sweep", "m.fcl"))
	assert.Equal(t, "removed=0 len=1", c.MustRun("sweep", "m.fcl"))

	cli.AssertContains(t, c.MustFail("sweep", "missing.fcl"), "error:")
}

func Test_Metrics_Prints_Gauges_Labelled_With_File_Name(t *testing.T) {
	t.Parallel()

	c := newSmallCLI(t)
	repl(t, c, "stack", "jobs.fcl", "push a", "push b", "quit")

	stdout := c.MustRun("metrics", "jobs.fcl")
	cli.AssertContains(t, stdout, `fastcollection_len{collection="jobs"} 2`)
	cli.AssertContains(t, stdout, `fastcollection_max_size_bytes{collection="jobs"} 16777216`)

	stdout = c.MustRun("metrics", "jobs.fcl", "--name", "work")
	cli.AssertContains(t, stdout, `fastcollection_len{collection="work"} 2`)
}

func Test_Rm_Deletes_Collection_Files_And_Skips_Others(t *testing.T) {
	t.Parallel()

	c := newSmallCLI(t)
	c.MustRun("create", "list", "l.fcl")
	writeFile(t, c.Path("notes.txt"), "not a collection")

	stdout, stderr, code := c.Run("rm", "l.fcl", "notes.txt")

	assert.Equal(t, 1, code)
	cli.AssertContains(t, stdout, "removed l.fcl")
	cli.AssertContains(t, stderr, "warning: skipped notes.txt")

	_, err := os.Stat(c.Path("l.fcl"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = os.Stat(c.Path("l.fcl.lock"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = os.Stat(c.Path("notes.txt"))
	require.NoError(t, err)

	c.MustRun("rm", "--force", "notes.txt")

	_, err = os.Stat(c.Path("notes.txt"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func Test_Bench_Runs_All_Pairs_For_Every_Kind(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{"list", "set", "map", "queue", "stack"} {
		t.Run(kind, func(t *testing.T) {
			t.Parallel()

			c := newSmallCLI(t)
			stdout := c.MustRun("bench", kind, kind+".fcl", "-n", "200", "-w", "2", "--value-size", "16")

			cli.AssertContains(t, stdout, "kind="+kind+" workers=2 pairs=200 ")
			cli.AssertContains(t, c.MustRun("info", kind+".fcl"), "len=0")
		})
	}
}

func Test_Bench_Keeps_Elements_When_Keep_Is_Set(t *testing.T) {
	t.Parallel()

	c := newSmallCLI(t)
	stdout := c.MustRun("bench", "map", "m.fcl", "-n", "100", "-w", "3", "--keep")

	cli.AssertContains(t, stdout, "pairs=100 ")
	cli.AssertContains(t, stdout, "hits=100 misses=0")
	cli.AssertContains(t, c.MustRun("info", "m.fcl"), "len=100")
}

func Test_Repl_Drives_List_When_Reading_Script_From_Stdin(t *testing.T) {
	t.Parallel()

	c := newSmallCLI(t)

	out := repl(t, c, "list", "l.fcl",
		"add a",
		"add b",
		"addfirst z",
		"insert 1 y",
		"values",
		"get 9",
		"indexof b",
		"removevalue y",
		"ttl 0",
		"len",
		"bogus",
		"get",
		"quit",
		"add never-run",
	)

	want := strings.Join([]string{
		"OK", "OK", "OK", "OK",
		`1) "z"`, `2) "y"`, `3) "a"`, `4) "b"`,
		"error: index 9, length 4: fastcollection: index out of range",
		"3",
		"true",
		"never",
		"3",
		`error: unknown command "bogus" (try help)`,
		"error: wrong number of arguments, usage: get <index>",
	}, "\n") + "\n"

	assert.Equal(t, want, out)

	// State survives the session.
	out = repl(t, c, "list", "l.fcl", "values")
	assert.Equal(t, "1) \"z\"\n2) \"a\"\n3) \"b\"\n", out)
}

func Test_Repl_Drives_Each_Kind_When_Reading_Script_From_Stdin(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind   string
		script []string
		want   []string
	}{
		{"queue", []string{"offer a", "offer b", "offerfirst c", "peek", "poll", "polllast", "len"}, []string{"OK", "OK", "OK", `"c"`, `"c"`, `"b"`, "1"}},
		{"stack", []string{"push a", "push b", "peek", "search a", "pop", "pop", "pop"}, []string{"OK", "OK", `"b"`, "2", `"b"`, `"a"`, "(nil)"}},
		{"set", []string{"add x", "add x", "contains x", "remove x", "contains x"}, []string{"true", "false", "true", "true", "false"}},
		{"map", []string{"put k v", "putifabsent k w", "get k", "containsvalue v", "remove k", "get k"}, []string{"OK", "false", `"v"`, "true", "true", "(nil)"}},
	}

	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			t.Parallel()

			c := newSmallCLI(t)
			out := repl(t, c, tc.kind, tc.kind+".fcl", tc.script...)

			assert.Equal(t, strings.Join(tc.want, "\n")+"\n", out)
		})
	}
}

func Test_Repl_Help_Lists_Commands_Of_The_Collection_Kind(t *testing.T) {
	t.Parallel()

	c := newSmallCLI(t)
	out := repl(t, c, "stack", "s.fcl", "help")

	cli.AssertContains(t, out, "stack commands")
	cli.AssertContains(t, out, "  push <value> [ttl]")
	cli.AssertContains(t, out, "  popall [limit]")
	cli.AssertContains(t, out, "  stats")
	cli.AssertNotContains(t, out, "putifabsent")
}
