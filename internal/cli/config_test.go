package cli_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/fastcollection/internal/cli"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func Test_Print_Config_Shows_Defaults_When_No_File_Exists(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("print-config")

	cli.AssertContains(t, stdout, "effective_cwd="+c.Dir)
	cli.AssertContains(t, stdout, "initial_size=64MiB")
	cli.AssertContains(t, stdout, "max_size=16GiB")
	cli.AssertContains(t, stdout, "bucket_count=16384")
	cli.AssertContains(t, stdout, "sweep_interval=1s")
	cli.AssertContains(t, stdout, "history_file="+filepath.Join(c.Env["HOME"], ".fcol_history"))
	cli.AssertContains(t, stdout, "(defaults only)")
}

func Test_Print_Config_Reads_Project_File_With_Comments(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	writeFile(t, c.Path(".fcol.json"), `{
		// small files for tests
		"initial_size": "128KiB",
		"bucket_count": 256,
		"sweep_interval": "250ms",
	}`)

	stdout := c.MustRun("print-config")

	cli.AssertContains(t, stdout, "initial_size=128KiB")
	cli.AssertContains(t, stdout, "bucket_count=256")
	cli.AssertContains(t, stdout, "sweep_interval=250ms")
	cli.AssertContains(t, stdout, "project_config="+c.Path(".fcol.json"))
}

func Test_Print_Config_Layers_Explicit_File_Over_Global_File(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	global := filepath.Join(c.Env["XDG_CONFIG_HOME"], "fcol", "config.json")

	writeFile(t, global, `{"max_size": "1GiB", "bucket_count": 64}`)
	writeFile(t, c.Path(".fcol.json"), `{"bucket_count": 128}`)
	writeFile(t, c.Path("custom.json"), `{"bucket_count": 512, "log_level": "debug"}`)

	stdout := c.MustRun("--config=custom.json", "print-config")

	cli.AssertContains(t, stdout, "max_size=1GiB")
	cli.AssertContains(t, stdout, "bucket_count=512")
	cli.AssertContains(t, stdout, "log_level=DEBUG")
	cli.AssertContains(t, stdout, "global_config="+global)
	cli.AssertContains(t, stdout, "project_config="+c.Path("custom.json"))
}

func Test_Config_Fails_When_Explicit_File_Is_Missing(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("-c", "nope.json", "print-config")

	cli.AssertContains(t, stderr, "config file not found")
}

func Test_Config_Fails_When_File_Has_Invalid_Values(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"bad json":        `{"bucket_count": }`,
		"bad size":        `{"initial_size": "lots"}`,
		"zero buckets":    `{"bucket_count": 0}`,
		"bad duration":    `{"sweep_interval": "soon"}`,
		"bad level":       `{"log_level": "loud"}`,
		"initial too big": `{"initial_size": "2GiB", "max_size": "1GiB"}`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			c := cli.NewCLI(t)
			writeFile(t, c.Path(".fcol.json"), content)

			stderr := c.MustFail("print-config")
			cli.AssertContains(t, stderr, "invalid config file")
		})
	}
}
