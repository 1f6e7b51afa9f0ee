package alert

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAdd(t *testing.T) {
	reg := NewRegistry(nil)

	rule, err := reg.Add("  Decisão ", High)
	require.NoError(t, err)
	assert.Equal(t, "Decisão", rule.Keyword)
	assert.Equal(t, High, rule.Priority)
	assert.True(t, rule.SoundEnabled)
	assert.Equal(t, OriginManual, rule.Origin)
	assert.NotEmpty(t, rule.ID)

	got, ok := reg.Get(rule.ID)
	require.True(t, ok)
	assert.Equal(t, rule, got)
}

func TestRegistryRejectsDuplicateKeywordIgnoringCase(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Add("decisão", High)
	require.NoError(t, err)

	for _, kw := range []string{"decisão", "DECISÃO", "Decisão", " decisão "} {
		_, err := reg.Add(kw, Low)
		assert.ErrorIs(t, err, ErrDuplicateKeyword, kw)
		assert.Equal(t, 1, reg.Len())
	}
}

func TestRegistryRejectsInvalidInput(t *testing.T) {
	reg := NewRegistry(nil)

	_, err := reg.Add("   ", High)
	assert.ErrorIs(t, err, ErrEmptyKeyword)

	_, err = reg.Add("prazo", Priority(9))
	assert.ErrorIs(t, err, ErrInvalidPriority)

	assert.Equal(t, 0, reg.Len())
}

func TestRegistryListKeepsInsertionOrder(t *testing.T) {
	reg := NewRegistry(nil)
	for _, kw := range []string{"prazo", "decisão", "aprovado", "orçamento"} {
		_, err := reg.Add(kw, Medium)
		require.NoError(t, err)
	}

	var keywords []string
	var ids []string
	for _, r := range reg.List() {
		keywords = append(keywords, r.Keyword)
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"prazo", "decisão", "aprovado", "orçamento"}, keywords)
	assert.IsIncreasing(t, ids, "rule ids sort in creation order")
}

func TestRegistryMutations(t *testing.T) {
	reg := NewRegistry(nil)
	var changes []Change
	reg.OnChange(func(c Change) { changes = append(changes, c) })

	rule, err := reg.Add("prazo", Medium)
	require.NoError(t, err)

	updated, err := reg.SetSoundEnabled(rule.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.SoundEnabled)

	updated, err = reg.SetPriority(rule.ID, High)
	require.NoError(t, err)
	assert.Equal(t, High, updated.Priority)

	// No-op updates are not reported.
	_, err = reg.SetPriority(rule.ID, High)
	require.NoError(t, err)

	require.NoError(t, reg.Remove(rule.ID))
	assert.Equal(t, 0, reg.Len())

	kinds := make([]ChangeKind, len(changes))
	for i, c := range changes {
		kinds[i] = c.Kind
	}
	assert.Equal(t, []ChangeKind{RuleAdded, RuleUpdated, RuleUpdated, RuleRemoved}, kinds)

	assert.ErrorIs(t, reg.Remove(rule.ID), ErrRuleNotFound)
	_, err = reg.SetSoundEnabled("missing", true)
	assert.ErrorIs(t, err, ErrRuleNotFound)
	_, err = reg.SetPriority(rule.ID, Priority(0))
	assert.ErrorIs(t, err, ErrInvalidPriority)
}

func TestRegistryListIsACopy(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Add("prazo", Medium)
	require.NoError(t, err)

	list := reg.List()
	list[0].Keyword = "changed"
	assert.Equal(t, "prazo", reg.List()[0].Keyword)
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"low", Low, false},
		{"Medium", Medium, false},
		{" HIGH ", High, false},
		{"urgent", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidPriority, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	text, err := High.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "high", string(text))

	var p Priority
	require.NoError(t, p.UnmarshalText([]byte("low")))
	assert.Equal(t, Low, p)
	assert.True(t, High > Medium && Medium > Low)
}

func TestRegistrySeed(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Add("prazo", Low)
	require.NoError(t, err)

	off := false
	added, err := reg.Seed([]RuleSpec{
		{Keyword: "decisão", Priority: "high"},
		{Keyword: "Prazo", Priority: "medium"},
		{Keyword: "aprovado", Priority: "low", Sound: &off},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	rules := reg.List()
	require.Len(t, rules, 3)
	assert.Equal(t, Low, rules[0].Priority, "existing rule untouched")
	assert.Equal(t, OriginSeed, rules[1].Origin)
	assert.False(t, rules[2].SoundEnabled)

	_, err = reg.Seed([]RuleSpec{{Keyword: "x", Priority: "urgent"}})
	assert.ErrorIs(t, err, ErrInvalidPriority)
}

func TestRegistrySync(t *testing.T) {
	reg := NewRegistry(nil)
	manual, err := reg.Add("orçamento", Low)
	require.NoError(t, err)

	res, err := reg.Sync([]RuleSpec{
		{Keyword: "decisão", Priority: "high"},
		{Keyword: "prazo", Priority: "medium"},
	})
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Added: 2}, res)

	off := false
	res, err = reg.Sync([]RuleSpec{
		{Keyword: "decisão", Priority: "high", Sound: &off},
		{Keyword: "Orçamento", Priority: "high"},
	})
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Updated: 2, Removed: 1}, res)

	rules := reg.List()
	require.Len(t, rules, 2)
	assert.Equal(t, manual.ID, rules[0].ID)
	assert.Equal(t, High, rules[0].Priority)
	assert.Equal(t, OriginManual, rules[0].Origin)
	assert.Equal(t, "decisão", rules[1].Keyword)
	assert.False(t, rules[1].SoundEnabled)

	_, err = reg.Sync([]RuleSpec{{Keyword: "a", Priority: "low"}, {Keyword: "A", Priority: "low"}})
	assert.ErrorIs(t, err, ErrDuplicateKeyword)
}

func TestLoadRulesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `
rules:
  - keyword: decisão
    priority: high
  - keyword: prazo
    priority: medium
    sound: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	specs, err := LoadRulesFile(path)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "decisão", specs[0].Keyword)
	assert.Nil(t, specs[0].Sound)
	require.NotNil(t, specs[1].Sound)
	assert.False(t, *specs[1].Sound)

	_, err = LoadRulesFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("rules: [oops"), 0o644))
	_, err = LoadRulesFile(path)
	assert.Error(t, err)
}
