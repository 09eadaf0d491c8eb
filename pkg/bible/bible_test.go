package bible

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/sessionctl/pkg/config"
	"github.com/codeready-toolchain/sessionctl/pkg/errkind"
	"github.com/codeready-toolchain/sessionctl/pkg/tier"
	"github.com/codeready-toolchain/sessionctl/pkg/tokenmeter"
)

func newLoader(t *testing.T) (*Loader, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "onboarding.md"), []byte("welcome to the workspace"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "security.md"), []byte("follow least privilege"), 0o644))

	cfg := config.Defaults()
	cfg.SigningKey = []byte("k")
	cfg.WorkingMemoryDefault = 10_000
	store := tier.New(cfg, nil)
	meter := tokenmeter.NewMeter(nil)

	return New(root, meter, store, 1_000), root
}

func TestLoadSectionReadsContentAndSizesIt(t *testing.T) {
	l, _ := newLoader(t)
	l.store.SetSessionHOTCap("s1", 10_000)

	section, err := l.LoadSection("onboarding.md", false, "s1")
	require.NoError(t, err)
	assert.Equal(t, "welcome to the workspace", section.Text)
	assert.Greater(t, section.TokenCost, 0)
}

func TestLoadSectionCachesAtFrozenAndHot(t *testing.T) {
	l, _ := newLoader(t)
	l.store.SetSessionHOTCap("s1", 10_000)

	_, err := l.LoadSection("onboarding.md", false, "s1")
	require.NoError(t, err)

	_, ok := l.store.Get(frozenKey("onboarding.md"))
	assert.True(t, ok, "loaded section is cached at FROZEN")

	_, ok = l.store.Get("onboarding.md")
	assert.True(t, ok, "loaded section is staged at HOT for immediate use")
}

func TestLoadSectionMissingReturnsNotFound(t *testing.T) {
	l, _ := newLoader(t)
	_, err := l.LoadSection("does-not-exist.md", false, "s1")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.NotFound))
}

func TestLoadSectionRejectsMalformedID(t *testing.T) {
	l, _ := newLoader(t)
	_, err := l.LoadSection("has a space.md", false, "s1")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Malformed))
}

func TestLoadSectionRejectsPathEscape(t *testing.T) {
	l, _ := newLoader(t)
	_, err := l.LoadSection("../../etc/passwd", false, "s1")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.PathEscape))
}

func TestLoadSectionRejectsDotDotSegment(t *testing.T) {
	l, _ := newLoader(t)
	_, err := l.LoadSection("sub/../../escape.md", false, "s1")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.PathEscape))
}

func TestBootstrapReturnsBoundedSummaryWithoutReadingBodies(t *testing.T) {
	l, _ := newLoader(t)
	summary, tokens, err := l.Bootstrap()
	require.NoError(t, err)
	assert.Contains(t, summary, "onboarding.md")
	assert.Contains(t, summary, "security.md")
	assert.LessOrEqual(t, tokens, 1_000)
}
