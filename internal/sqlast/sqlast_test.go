package sqlast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_NormalizesCaseAndWhitespace(t *testing.T) {
	base := Fingerprint("DELETE FROM visits WHERE id = 1")

	assert.Equal(t, base, Fingerprint("delete from visits where id = 1"))
	assert.Equal(t, base, Fingerprint("  DELETE   FROM visits\n\tWHERE id = 1  "))
	assert.Equal(t, base, Fingerprint("DELETE FROM visits WHERE id = 1;"))
}

func TestFingerprint_DistinguishesStatements(t *testing.T) {
	assert.NotEqual(t,
		Fingerprint("DELETE FROM visits WHERE id = 1"),
		Fingerprint("DELETE FROM visits WHERE id = 2"))
}

func TestKindMutating(t *testing.T) {
	assert.True(t, KindInsert.Mutating())
	assert.True(t, KindUpdate.Mutating())
	assert.True(t, KindDelete.Mutating())
	assert.False(t, KindSelect.Mutating())
	assert.False(t, KindDDL.Mutating())
	assert.False(t, KindUnknown.Mutating())
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, "visits", QuoteIdentifier("visits"))
	assert.Equal(t, "visit_log2", QuoteIdentifier("visit_log2"))
	assert.Equal(t, `"Visits"`, QuoteIdentifier("Visits"))
	assert.Equal(t, `"odd name"`, QuoteIdentifier("odd name"))
	assert.Equal(t, `"say ""hi"""`, QuoteIdentifier(`say "hi"`))
}
