package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentHashNormalizes(t *testing.T) {
	a := ContentHash("Bulk Export", "Export  all\ttickets", "Manual copy is slow")
	b := ContentHash("  bulk export ", "export all tickets\n", " manual   copy is slow")
	require.Equal(t, a, b)
	// NFKC folds compatibility forms such as full-width letters.
	require.Equal(t, ContentHash("ＣＳＶ export", "", ""), ContentHash("csv export", "", ""))
	require.NotEqual(t, a, ContentHash("Bulk Import", "Export all tickets", "Manual copy is slow"))
}

func TestContentHashUsesLeadingBody(t *testing.T) {
	prefix := strings.Repeat("a", hashBodyRunes)
	require.Equal(t,
		ContentHash("t", prefix+" first tail", ""),
		ContentHash("t", prefix+" second tail", ""),
	)
	require.NotEqual(t, ContentHash("t", "short one", ""), ContentHash("t", "short two", ""))
}

func TestLevelLookups(t *testing.T) {
	require.Equal(t, "critical", PriorityFromHint("Blocker"))
	require.Equal(t, "high", UrgencyFromHint("urgent"))
	require.Equal(t, "medium", PriorityFromHint("whenever"))
	require.Equal(t, "medium", UrgencyFromHint(""))
}
