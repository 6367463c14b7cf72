// internal/hierarchy/hierarchy_test.go
package hierarchy

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/tracecheck/api/schemas"
)

const sampleXML = `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>
<hierarchy rotation="0">
  <node index="0" text="" resource-id="" class="android.widget.FrameLayout" content-desc="" clickable="false" bounds="[0,0][1080,2400]">
    <node index="0" text="Search" resource-id="com.example:id/search" class="android.widget.EditText" content-desc="" clickable="true" bounds="[40,100][1040,200]" />
    <node index="1" text="" resource-id="com.example:id/wifi" class="android.widget.Switch" content-desc="Wi-Fi" checked="true" clickable="true" bounds="[900,300][1040,380]" />
    <node index="2" text="" resource-id="com.example:id/row" class="android.widget.LinearLayout" content-desc="" clickable="true" bounds="[0,400][1080,600]">
      <node index="0" text="Done" resource-id="com.example:id/done" class="android.widget.Button" content-desc="" clickable="true" bounds="[440,450][640,550]" />
    </node>
  </node>
</hierarchy>`

func TestParseBox(t *testing.T) {
	b, err := ParseBox("[12,14][1080,2274]")
	require.NoError(t, err)
	assert.Equal(t, Box{X1: 12, Y1: 14, X2: 1080, Y2: 2274}, b)
	assert.Equal(t, "[12,14][1080,2274]", b.String())
	assert.Equal(t, 1068.0, b.Width())

	for _, bad := range []string{"", "None", "12,14,1080,2274", "[12,14]", "[a,b][c,d]", "[1,2][3]"} {
		_, err := ParseBox(bad)
		assert.Error(t, err, bad)
	}
}

func TestBoxGeometry(t *testing.T) {
	b := Box{X1: 10, Y1: 10, X2: 20, Y2: 30}
	assert.True(t, b.ContainsPoint(10, 30), "edges are inclusive")
	assert.False(t, b.ContainsPoint(21, 15))
	assert.True(t, b.Contains(Box{X1: 12, Y1: 12, X2: 20, Y2: 20}))
	assert.False(t, b.Contains(Box{X1: 5, Y1: 12, X2: 20, Y2: 20}))
	x, y := b.Center()
	assert.Equal(t, 15.0, x)
	assert.Equal(t, 20.0, y)
	assert.Equal(t, 200.0, b.Area())
}

func TestParseTree(t *testing.T) {
	tree, err := ParseTree([]byte(sampleXML))
	require.NoError(t, err)

	nodes := tree.Nodes()
	require.Len(t, nodes, 6, "root plus five nodes")
	assert.Equal(t, "hierarchy", nodes[0].Tag())

	leaves := tree.Leaves()
	require.Len(t, leaves, 3)
	assert.Equal(t, "Search", leaves[0].Text())
	assert.Equal(t, "Wi-Fi", leaves[1].DisplayText())
	assert.True(t, leaves[1].Checked())
	assert.Equal(t, "com.example:id/done", leaves[2].ResourceID())
}

func TestParseTree_Invalid(t *testing.T) {
	_, err := ParseTree([]byte("not xml at all"))
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrHierarchyUnavailable)
}

func TestTreeFind(t *testing.T) {
	tree, err := ParseTree([]byte(sampleXML))
	require.NoError(t, err)

	n, ok, err := tree.Find(`//*[@text="Done"]`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "android.widget.Button", n.Class())

	_, ok, err = tree.Find(`//*[@text='Cancel']`)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = tree.Find(`//*[@text=`)
	assert.ErrorIs(t, err, schemas.ErrCorruptFixture)
}

func TestSmallestContaining(t *testing.T) {
	tree, err := ParseTree([]byte(sampleXML))
	require.NoError(t, err)

	n, ok := tree.SmallestContaining(540, 500)
	require.True(t, ok)
	assert.Equal(t, "Done", n.Text(), "the button is smaller than the row and the frame around it")

	n, ok = tree.SmallestContaining(100, 500)
	require.True(t, ok)
	assert.Equal(t, "com.example:id/row", n.ResourceID())

	_, ok = tree.SmallestContaining(5000, 5000)
	assert.False(t, ok)
}

func TestUIPositions(t *testing.T) {
	tree, err := ParseTree([]byte(sampleXML))
	require.NoError(t, err)

	pos := tree.UIPositions(1080, 2400)
	require.Len(t, pos, 3, "the clickable LinearLayout is a container")
	assert.InDelta(t, 100.0/2400.0, pos[0].Y, 1e-9)
	assert.InDelta(t, 1000.0/1080.0, pos[0].Width, 1e-9)

	assert.Nil(t, tree.UIPositions(0, 2400))
}

func TestSidecar(t *testing.T) {
	sc, err := ParseSidecar([]byte(`[
		{"bounds": "[40,100][1040,200]", "class": "android.widget.EditText", "text": "", "resource-id": "com.example:id/search", "content-desc": "Search box"},
		{"bounds": "[440,450][640,550]", "class": "android.widget.Button", "text": "Done", "resource-id": "", "content-desc": ""}
	]`))
	require.NoError(t, err)
	require.Len(t, sc, 2)

	n, err := sc.Node(0)
	require.NoError(t, err)
	assert.Equal(t, "Search box", n.DisplayText())
	b, err := n.Box()
	require.NoError(t, err)
	assert.Equal(t, 40.0, b.X1)

	_, err = sc.Node(2)
	assert.ErrorIs(t, err, schemas.ErrCorruptFixture)

	_, err = ParseSidecar([]byte(`{"not": "an array"}`))
	assert.ErrorIs(t, err, schemas.ErrCorruptFixture)
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestCache(t *testing.T) {
	dir := t.TempDir()
	xmlPath := filepath.Join(dir, "0.xml")
	require.NoError(t, os.WriteFile(xmlPath, []byte(sampleXML), 0o644))
	appsPath := filepath.Join(dir, "apps.txt")
	require.NoError(t, os.WriteFile(appsPath, []byte("package:com.Expedia.Bookings\n\n  com.android.chrome \n"), 0o644))
	pngPath := filepath.Join(dir, "0.png")
	writePNG(t, pngPath, 54, 120)

	c := NewCache(zaptest.NewLogger(t))

	var wg sync.WaitGroup
	trees := make([]*Tree, 8)
	for i := range trees {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tree, err := c.Tree(xmlPath)
			assert.NoError(t, err)
			trees[i] = tree
		}(i)
	}
	wg.Wait()
	for _, tree := range trees[1:] {
		assert.Same(t, trees[0], tree, "concurrent loads share one parsed tree")
	}

	apps, err := c.InstalledApps(appsPath)
	require.NoError(t, err)
	assert.Contains(t, apps, "com.expedia.bookings")
	assert.Contains(t, apps, "com.android.chrome")
	assert.Len(t, apps, 2)

	w, h, err := c.ImageSize(pngPath)
	require.NoError(t, err)
	assert.Equal(t, 54, w)
	assert.Equal(t, 120, h)

	_, err = c.Tree(filepath.Join(dir, "missing.xml"))
	assert.ErrorIs(t, err, schemas.ErrHierarchyUnavailable)
	_, err = c.Tree("")
	assert.ErrorIs(t, err, schemas.ErrHierarchyUnavailable)
	_, err = c.Sidecar(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, schemas.ErrCorruptFixture)
	_, err = c.InstalledApps("")
	assert.ErrorIs(t, err, ErrNoInstalledApps)
	_, err = c.InstalledApps(filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, ErrNoInstalledApps)
	assert.NotErrorIs(t, err, schemas.ErrCorruptFixture)
}
