package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/JakeFAU/equipment-manuals/internal/cache"
	"github.com/JakeFAU/equipment-manuals/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivePrefix(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		mfr  catalog.Manufacturer
		want string
	}{
		{catalog.Manufacturer{ID: "henny-penny", Name: "Henny Penny"}, "HEN-"},
		{catalog.Manufacturer{ID: "fm", Name: "Frymaster"}, "FM-"},
		{catalog.Manufacturer{ID: "x1", Name: "True"}, "TRUE-"},
		{catalog.Manufacturer{ID: "acme", Name: "Acme Corp"}, "ACM-"},
		{catalog.Manufacturer{ID: "3m", Name: "3M"}, "3M-"},
		{catalog.Manufacturer{ID: "", Name: "--"}, "UNK-"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, DerivePrefix(tc.mfr), tc.mfr.Name)
	}
}

func TestVariants(t *testing.T) {
	t.Parallel()

	rule := DefaultRule(hennyPenny)
	got := Variants("ofe-321", rule)
	assert.Equal(t, []string{"OFE-321", "ofe-321", "OFE321", "OFE_321", "OFE-321-600", "PFOFE-321"}, got)

	got = Variants("500", rule)
	assert.Equal(t, []string{"500", "500-600", "PF500"}, got)

	assert.Nil(t, Variants(" ", rule))
}

func TestSeriesLiteralsMatchFamily(t *testing.T) {
	t.Parallel()

	rule := PatternRule{Transforms: []Transform{TransformSeries}, Series: []string{"500-600", "OFE-SERIES", "{model}X"}}
	assert.Equal(t, []string{"500-600", "561X"}, Variants("561", rule))
	assert.Equal(t, []string{"700X"}, Variants("700", rule))
	assert.Equal(t, "OFE3", family("ofe321"))
	assert.Empty(t, family("-"))
}

func TestCandidates(t *testing.T) {
	t.Parallel()

	rule := DefaultRule(hennyPenny)
	cands := Candidates(base, "/modelManual/", "500", rule)
	urls := make([]string, 0, len(cands))
	for _, c := range cands {
		urls = append(urls, c.URL)
	}
	assert.Contains(t, urls, base+"/modelManual/HEN-500_pm.pdf")
	assert.Contains(t, urls, base+"/modelManual/HEN-500-600_pm.pdf")
	assert.Contains(t, urls, base+"/modelManual/HEN-PF500_spm.pdf")
	assert.Len(t, cands, 3*len(catalog.ManualTypes))
}

func TestDecompose(t *testing.T) {
	t.Parallel()

	d, ok := Decompose("HEN-500-600_pm.pdf")
	require.True(t, ok)
	assert.Equal(t, Decomposition{Prefix: "HEN-", Stem: "500-600", Suffix: "pm"}, d)

	d, ok = Decompose("fm-H50_SERIES_SPM.pdf")
	require.True(t, ok)
	assert.Equal(t, Decomposition{Prefix: "FM-", Stem: "H50_SERIES", Suffix: "spm"}, d)

	for _, bad := range []string{"manual.pdf", "HEN-500.pdf", "HEN-500_pm.txt", ""} {
		_, ok := Decompose(bad)
		assert.False(t, ok, bad)
	}
}

func TestLearn(t *testing.T) {
	t.Parallel()

	rule := DefaultRule(catalog.Manufacturer{ID: "pitco", Name: "Pitco"})
	manuals := []catalog.ManualReference{
		{URL: base + "/modelManual/PIT-SG14_spm.pdf"},
		{URL: base + "/modelManual/PIT-SG14-SERIES_om.pdf"},
		{URL: base + "/modelManual/PIT-SOLSTICE_wd.pdf"},
		{URL: base + "/notamanual.pdf"},
	}
	learned, changed := Learn(rule, "sg14", manuals)
	require.True(t, changed)
	assert.Equal(t, TransformUpper, learned.Transforms[0])
	assert.Contains(t, learned.Suffixes, "om")
	assert.Contains(t, learned.Series, "{model}-SERIES")
	assert.Contains(t, learned.Series, "SOLSTICE")

	again, changed := Learn(learned, "sg14", manuals)
	assert.False(t, changed)
	assert.Equal(t, learned, again)
}

func TestLearnLeavesInputRuleUntouched(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), DefaultRule(catalog.Manufacturer{ID: "pitco", Name: "Pitco"})))

	loaded, ok, err := store.Load(context.Background(), "pitco")
	require.NoError(t, err)
	require.True(t, ok)
	before := loaded.Clone()

	learned, changed := Learn(loaded, "sg-14", []catalog.ManualReference{
		{URL: base + "/modelManual/PIT-SG_14_om.pdf"},
		{URL: base + "/modelManual/PIT-SOLSTICE_wd.pdf"},
	})
	require.True(t, changed)
	assert.Equal(t, TransformHyphenUnderscore, learned.Transforms[0])
	assert.Equal(t, before, loaded)

	again, _, err := store.Load(context.Background(), "pitco")
	require.NoError(t, err)
	assert.Equal(t, before, again, "stored rule only changes on Save")
}

func TestLearnCapsSeries(t *testing.T) {
	t.Parallel()

	rule := DefaultRule(catalog.Manufacturer{ID: "star", Name: "Star"})
	var manuals []catalog.ManualReference
	for i := range 40 {
		manuals = append(manuals, catalog.ManualReference{URL: base + "/modelManual/STA-Q" + string(rune('A'+i%26)) + string(rune('A'+i/26)) + "_pm.pdf"})
	}
	learned, _ := Learn(rule, "zz", manuals)
	assert.Len(t, learned.Series, maxSeries)
}

func TestTransformValid(t *testing.T) {
	t.Parallel()

	assert.True(t, TransformSeries.Valid())
	assert.False(t, Transform("reverse").Valid())
	assert.Nil(t, Transform("reverse").Apply("x", PatternRule{}))
}

func TestCachedStore(t *testing.T) {
	t.Parallel()

	backend, err := NewFileStore(nil)
	require.NoError(t, err)
	store := NewCachedStore(backend, cache.NewMemory[PatternRule](), time.Hour)
	ctx := context.Background()

	_, ok, err := store.Load(ctx, "henny-penny")
	require.NoError(t, err)
	assert.False(t, ok)

	rule := DefaultRule(hennyPenny)
	require.NoError(t, store.Save(ctx, rule))
	got, ok, err := store.Load(ctx, "HENNY-PENNY")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rule.Prefix, got.Prefix)
}
