package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windowsadmins/lexsetup/pkg/failure"
	"github.com/windowsadmins/lexsetup/pkg/progress"
	"github.com/windowsadmins/lexsetup/pkg/runner"
)

// TestHelperProcess stands in for the asset downloader.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("LEXSETUP_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}

	attempt := 1
	if counter := os.Getenv("LEXSETUP_HELPER_COUNTER"); counter != "" {
		data, _ := os.ReadFile(counter)
		attempt = len(data) + 1
		_ = os.WriteFile(counter, append(data, '.'), 0o644)
	}

	switch args[0] {
	case "markers":
		fmt.Println("Found en_core_web_sm")
		fmt.Println("Downloading de_core_news_sm")
		fmt.Println("  12% |###")
		fmt.Println("Removing fr_core_news_sm")
	case "quiet":
		fmt.Println("nothing to report")
	case "fail":
		fmt.Fprintln(os.Stderr, "ConnectionError: network unreachable")
		os.Exit(1)
	case "flaky":
		succeedOn, _ := strconv.Atoi(args[1])
		if attempt < succeedOn {
			fmt.Fprintln(os.Stderr, "ReadTimeout")
			os.Exit(1)
		}
		fmt.Println("Downloading en_core_web_sm")
	case "hang":
		fmt.Println("Downloading big_model")
		time.Sleep(time.Minute)
	}
	os.Exit(0)
}

func helper(counter string, args ...string) runner.CommandFactory {
	return func(path string, _ ...string) runner.Command {
		return runner.Command{
			Path: os.Args[0],
			Args: append([]string{"-test.run=TestHelperProcess", "--"}, args...),
			Env:  []string{"LEXSETUP_HELPER_PROCESS=1", "LEXSETUP_HELPER_COUNTER=" + counter},
		}
	}
}

func newProvisioner(t *testing.T, retries int, args ...string) (*Provisioner, *progress.Reporter, string) {
	t.Helper()
	counter := filepath.Join(t.TempDir(), "attempts")
	reporter := progress.NewReporter(progress.NewQueue())
	ledger := progress.NewLedger(reporter)
	require.NoError(t, ledger.Register(Task()))

	return &Provisioner{
		Runner:   runner.New(time.Second),
		Command:  helper(counter, args...),
		Args:     []string{"-m", "lex.assets", "download"},
		Retries:  retries,
		Backoff:  10 * time.Millisecond,
		Ledger:   ledger,
		Reporter: reporter,
	}, reporter, counter
}

func exe(t *testing.T) string {
	return filepath.Join(t.TempDir(), "python")
}

func TestParseMarker(t *testing.T) {
	testMatrix := []struct {
		line string
		ok   bool
		want Event
	}{
		{line: "Found en_core_web_sm", ok: true, want: Event{Action: ActionPresent, Name: "en_core_web_sm"}},
		{line: "  Downloading de_core_news_sm  ", ok: true, want: Event{Action: ActionDownloading, Name: "de_core_news_sm"}},
		{line: "Removing old-model", ok: true, want: Event{Action: ActionRemoving, Name: "old-model"}},
		{line: "Found", ok: false},
		{line: "progress 40%", ok: false},
		{line: "Found existing installation: numpy 1.26.0", ok: false},
		{line: "  Downloading numpy-1.26.4-cp312-win_amd64.whl (15.5 MB)", ok: false},
		{line: "  Downloading https://files.example.invalid/spacy.whl", ok: false},
		{line: "Downloading spacy-3.7.2.tar.gz", ok: false},
		{line: "Removing file or directory c:\\lex\\runtime\\old", ok: false},
	}
	for _, tc := range testMatrix {
		ev, ok := ParseMarker(tc.line)
		assert.Equal(t, tc.ok, ok, tc.line)
		if tc.ok {
			assert.Equal(t, tc.want, ev)
		}
	}

	assert.Equal(t, "Already present: x", Event{Action: ActionPresent, Name: "x"}.Status())
	assert.Equal(t, "Downloading: x", Event{Action: ActionDownloading, Name: "x"}.Status())
	assert.Equal(t, "Removing: x", Event{Action: ActionRemoving, Name: "x"}.Status())
}

func TestProvisionTranslatesMarkers(t *testing.T) {
	p, reporter, _ := newProvisioner(t, 0, "markers")

	res, err := p.Provision(context.Background(), exe(t))
	require.NoError(t, err)
	assert.False(t, res.NothingToDo)
	assert.Equal(t, []Event{
		{Action: ActionPresent, Name: "en_core_web_sm"},
		{Action: ActionDownloading, Name: "de_core_news_sm"},
		{Action: ActionRemoving, Name: "fr_core_news_sm"},
	}, res.Events)

	var details []string
	for _, ev := range reporter.Queue().Drain() {
		if d, ok := ev.(progress.DetailEvent); ok {
			details = append(details, d.Text)
		}
	}
	assert.Equal(t, []string{
		"Already present: en_core_web_sm",
		"Downloading: de_core_news_sm",
		"Removing: fr_core_news_sm",
	}, details)
}

func TestProvisionNothingToDo(t *testing.T) {
	p, reporter, _ := newProvisioner(t, 0, "quiet")

	res, err := p.Provision(context.Background(), exe(t))
	require.NoError(t, err)
	assert.True(t, res.NothingToDo)
	assert.Contains(t, reporter.FullLog(), "already up to date")
}

func TestProvisionRetriesThenFails(t *testing.T) {
	p, _, counter := newProvisioner(t, 2, "fail")

	res, err := p.Provision(context.Background(), exe(t))
	require.Error(t, err)
	assert.Equal(t, failure.KindAssetDownloadFailed, failure.KindOf(err))
	assert.Equal(t, 3, res.Attempts)

	data, readErr := os.ReadFile(counter)
	require.NoError(t, readErr)
	assert.Equal(t, 3, len(data))
	assert.Contains(t, failure.CauseOf(err), "3 attempt")

	task := p.Ledger.Snapshot()[0]
	assert.Equal(t, progress.StatusFailed, task.Status)
}

func TestProvisionRecoversFromFlakyNetwork(t *testing.T) {
	p, _, _ := newProvisioner(t, 2, "flaky", "2")

	res, err := p.Provision(context.Background(), exe(t))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, res.Events, 1)
}

func TestProvisionCancellationIsNotRetried(t *testing.T) {
	p, _, counter := newProvisioner(t, 3, "hang")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	res, err := p.Provision(ctx, exe(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.UserCancelled)
	assert.Equal(t, 1, res.Attempts)

	data, _ := os.ReadFile(counter)
	assert.Equal(t, 1, strings.Count(string(data), "."))
}
