// internal/evaluator/evaluator_trace_test.go
package evaluator

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/tracecheck/api/schemas"
	"github.com/xkilldash9x/tracecheck/internal/checkpoint"
	"github.com/xkilldash9x/tracecheck/internal/config"
	"github.com/xkilldash9x/tracecheck/internal/metadata"
	"github.com/xkilldash9x/tracecheck/internal/similarity"
	"github.com/xkilldash9x/tracecheck/internal/trace"
)

// Two executions share one annotated ground truth: a settings screen at
// step 0 and a hotel search field at step 2. The first execution reaches
// both in order, the second reaches the search field before the settings
// screen.
const datasetCSV = `episode,category,path,description,nsteps
search-hotels,general,general/search-hotels,Search hotels in Tokyo,3
search-hotels-late,general,general/search-hotels,Search hotels in Tokyo,3
install-booking,install,install/install-booking,Install Booking.com,3
`

type dataset struct {
	t        *testing.T
	gtRoot   string
	execRoot string
	screens  map[string]string
}

func newDataset(t *testing.T) *dataset {
	t.Helper()
	root := t.TempDir()
	d := &dataset{
		t:        t,
		gtRoot:   filepath.Join(root, "groundtruth"),
		execRoot: filepath.Join(root, "executions"),
		screens:  map[string]string{},
	}
	for _, name := range []string{"settings.xml", "item_page.xml", "hotel_search.xml", "hotel_search.json"} {
		b, err := os.ReadFile(filepath.Join("testdata", name))
		require.NoError(t, err)
		d.screens[name] = string(b)
	}
	// The same settings list later in the session, with a lower battery
	// level and a reworded summary.
	d.screens["settings_later.xml"] = strings.NewReplacer(
		"100%", "87%",
		"Notification history, conversations", "App notifications, history",
	).Replace(d.screens["settings.xml"])
	// The search field holding a different query.
	d.screens["hotel_search_paris.xml"] = strings.ReplaceAll(d.screens["hotel_search.xml"], "hotels in tokyo", "hotels in paris")
	return d
}

func (d *dataset) write(path, content string) {
	d.t.Helper()
	require.NoError(d.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(d.t, os.WriteFile(path, []byte(content), 0o644))
}

// groundTruth writes one step per screen name plus the given annotations,
// keyed by step index.
func (d *dataset) groundTruth(path string, screens []string, sidecars, annotations map[int]string) {
	dir := filepath.Join(d.gtRoot, path)
	for i, screen := range screens {
		base := filepath.Join(dir, strconv.Itoa(i))
		d.write(base+".png", "png")
		d.write(base+".xml", d.screens[screen])
	}
	for i, name := range sidecars {
		d.write(filepath.Join(dir, strconv.Itoa(i)+".json"), d.screens[name])
	}
	for i, ann := range annotations {
		d.write(filepath.Join(dir, strconv.Itoa(i)+"_drawed.png.text"), ann)
	}
}

// execution writes an agent recording with one step per screen name.
func (d *dataset) execution(episode string, screens []string) string {
	dir := filepath.Join(d.execRoot, episode)
	for i, screen := range screens {
		base := strconv.Itoa(i)
		d.write(filepath.Join(dir, "screenshot", base+".png"), "png")
		d.write(filepath.Join(dir, "xml", base+".xml"), d.screens[screen])
	}
	return dir
}

func (d *dataset) evaluator(strategy string) *Evaluator {
	d.t.Helper()
	logger := zaptest.NewLogger(d.t)
	repo, err := metadata.ParseCSV(strings.NewReader(datasetCSV))
	require.NoError(d.t, err)

	loader := trace.NewLoader(logger, checkpoint.NewExtractor(logger))
	sources, err := trace.NewDatasetSource(loader, d.gtRoot, d.execRoot)
	require.NoError(d.t, err)

	cfg := config.NewDefaultConfig()
	cfg.Evaluator.Strategy = strategy
	cfg.Evaluator.Workers = 2
	ev, err := New(cfg, logger, repo, sources, similarity.TokenCosineScorer{})
	require.NoError(d.t, err)
	return ev
}

func TestRun_RecordedTraces(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := newDataset(t)
	d.groundTruth("general/search-hotels",
		[]string{"settings.xml", "item_page.xml", "hotel_search.xml"},
		map[int]string{2: "hotel_search.json"},
		map[int]string{0: "fuzzy<-1>", 2: "textbox<3>"})

	// Step 1 resembles the annotated settings screen, step 3 holds the
	// wrong query and step 4 the annotated one.
	d.execution("search-hotels", []string{
		"item_page.xml", "settings_later.xml", "item_page.xml", "hotel_search_paris.xml", "hotel_search.xml",
	})
	// The only settings-like step comes after the only matching search field.
	d.execution("search-hotels-late", []string{
		"item_page.xml", "hotel_search.xml", "item_page.xml", "item_page.xml", "settings_later.xml",
	})

	for _, strategy := range []string{config.StrategyGreedy, config.StrategyLCS} {
		t.Run(strategy, func(t *testing.T) {
			run, err := d.evaluator(strategy).Run(context.Background(), Selection{
				Episodes: []string{"search-hotels", "search-hotels-late"},
			})
			require.NoError(t, err)
			require.Len(t, run.Results, 2)

			ordered := run.Results[0]
			assert.True(t, ordered.Passed, "detail: %s", ordered.Detail)
			assert.Equal(t, []int{1, 4}, ordered.MatchIndices)

			late := run.Results[1]
			assert.False(t, late.Passed)
			assert.Equal(t, schemas.ReasonStepCheckFailed, late.Reason)
		})
	}
}

func TestRun_InstalledAppsRecordedAtLastStep(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := newDataset(t)
	d.groundTruth("install/install-booking",
		[]string{"settings.xml", "item_page.xml", "hotel_search.xml"},
		nil,
		map[int]string{2: "check_install<Booking.com>|fuzzy<-2>"})

	dir := d.execution("install-booking", []string{"settings.xml", "item_page.xml", "hotel_search.xml"})
	d.write(filepath.Join(dir, "installed_apps", "2.txt"), "package:com.android.chrome\npackage:com.Expedia.Bookings\n")

	for _, strategy := range []string{config.StrategyGreedy, config.StrategyLCS} {
		t.Run(strategy, func(t *testing.T) {
			run, err := d.evaluator(strategy).Run(context.Background(), Selection{Episodes: []string{"install-booking"}})
			require.NoError(t, err)
			require.Len(t, run.Results, 1)

			res := run.Results[0]
			assert.True(t, res.Passed, "steps without a list are skipped, detail: %s", res.Detail)
			assert.Equal(t, []int{2}, res.MatchIndices)
		})
	}
}
