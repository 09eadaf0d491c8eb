// Package bible provides lazy, path-validated access to the
// workspace's reference documentation set (the "bible"): a directory
// of sections an agent consults on demand instead of loading wholesale
// into context. Loaded sections are cached at FROZEN and staged at HOT
// for immediate use, the same two-tier "cache plus working copy"
// pattern the Tier Store uses for promotion in reverse.
package bible

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/codeready-toolchain/sessionctl/pkg/errkind"
	"github.com/codeready-toolchain/sessionctl/pkg/tier"
	"github.com/codeready-toolchain/sessionctl/pkg/tokenmeter"
)

// idPattern is the section identifier grammar.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_\-./]{1,128}$`)

// Section is a single loaded bible section.
type Section struct {
	ID        string
	Path      string
	Text      string
	TokenCost int
	ForTool   bool
}

// Loader resolves section IDs against a configured root directory,
// sizes their content, and stages them into a Store at FROZEN and HOT.
type Loader struct {
	root          string
	meter         *tokenmeter.Meter
	store         *tier.Store
	summaryTokens int

	mu sync.Mutex
}

// New constructs a Loader rooted at root. summaryTokens bounds the
// bootstrap digest.
func New(root string, meter *tokenmeter.Meter, store *tier.Store, summaryTokens int) *Loader {
	return &Loader{
		root:          filepath.Clean(root),
		meter:         meter,
		store:         store,
		summaryTokens: summaryTokens,
	}
}

// resolve validates id against the grammar and confines it to root,
// returning the cleaned path joined onto root (relative if root is
// relative). Escaping requests fail
// with errkind.PathEscape, malformed ids with errkind.Malformed.
func (l *Loader) resolve(id string) (string, error) {
	if !idPattern.MatchString(id) {
		return "", errkind.FieldError("id", "does not match the section id grammar")
	}

	joined := filepath.Join(l.root, id)
	cleaned := filepath.Clean(joined)

	rootWithSep := l.root
	if !strings.HasSuffix(rootWithSep, string(filepath.Separator)) {
		rootWithSep += string(filepath.Separator)
	}
	if cleaned != l.root && !strings.HasPrefix(cleaned, rootWithSep) {
		return "", errkind.New(errkind.PathEscape, fmt.Sprintf("id %q resolves outside bible root", id))
	}

	return cleaned, nil
}

// LoadSection reads the section named by id, sizes it, and inserts it
// into the store at FROZEN (cache) and HOT (working copy, scoped to
// sessionID). forTool records whether this load was triggered by a
// tool invocation rather than direct agent reference; the store never
// inspects it beyond bookkeeping.
func (l *Loader) LoadSection(id string, forTool bool, sessionID string) (*Section, error) {
	path, err := l.resolve(id)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errkind.New(errkind.NotFound, fmt.Sprintf("section %q not found", id))
		}
		return nil, errkind.Wrap(errkind.Unavailable, "reading bible section", err)
	}

	text := string(raw)
	cost := l.meter.Size(text)

	section := &Section{ID: id, Path: path, Text: text, TokenCost: cost, ForTool: forTool}

	l.store.Put(frozenKey(id), section, tier.FROZEN, cost, tier.OriginBibleSection, "")
	if err := l.store.Put(id, section, tier.HOT, cost, tier.OriginBibleSection, sessionID); err != nil {
		return section, err
	}

	return section, nil
}

// Bootstrap returns a short digest of section identifiers available
// under root, bounded to summaryTokens. It never reads section
// bodies; full content arrives only through LoadSection on demand.
func (l *Loader) Bootstrap() (string, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids, err := l.listIDs()
	if err != nil {
		return "", 0, errkind.Wrap(errkind.Unavailable, "listing bible sections", err)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("bible sections:\n")
	for _, id := range ids {
		line := fmt.Sprintf("- %s\n", id)
		if l.meter.Size(b.String()+line) > l.summaryTokens {
			break
		}
		b.WriteString(line)
	}

	summary := b.String()
	return summary, l.meter.Size(summary), nil
}

func (l *Loader) listIDs() ([]string, error) {
	var ids []string
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

func frozenKey(id string) string {
	return "bible:" + id
}
