package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/reconcilor/internal/account"
)

func outcome(valid []string, invalid []string) account.ValidationOutcome {
	o := account.NewValidationOutcome()
	for _, id := range valid {
		o.Resolve(account.ID(id), true)
	}
	for _, id := range invalid {
		o.Resolve(account.ID(id), false)
	}
	return o
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name    string
		primary string
		local   []string
		valid   []string
		invalid []string
		remote  account.RemoteSessionList
		want    account.Plan
	}{
		{
			name:    "already converged",
			primary: "A", local: []string{"A", "B"}, valid: []string{"A", "B"},
			remote: sessions("A", true, "B", true),
			want:   account.Plan{ToCreateRemotely: []account.ID{}, ToImportLocally: []account.ImportEntry{}},
		},
		{
			name:    "create missing",
			primary: "A", local: []string{"A", "B"}, valid: []string{"A", "B"},
			remote: sessions("A", true),
			want:   account.Plan{ToCreateRemotely: ids("B"), ToImportLocally: []account.ImportEntry{}},
		},
		{
			name:    "create when remote entry invalid",
			primary: "A", local: []string{"A", "B"}, valid: []string{"A", "B"},
			remote: sessions("A", true, "B", false),
			want:   account.Plan{ToCreateRemotely: ids("B"), ToImportLocally: []account.ImportEntry{}},
		},
		{
			name:    "remote invalid not imported",
			primary: "A", local: []string{"A"}, valid: []string{"A"},
			remote: sessions("A", true, "C", false),
			want:   account.Plan{ToCreateRemotely: []account.ID{}, ToImportLocally: []account.ImportEntry{}},
		},
		{
			name:    "import with index",
			primary: "A", local: []string{"A"}, valid: []string{"A"},
			remote: sessions("A", true, "X", false, "C", true),
			want: account.Plan{
				ToCreateRemotely: []account.ID{},
				ToImportLocally:  []account.ImportEntry{{ID: "C", Index: 2}},
			},
		},
		{
			name:    "locally invalid account is imported",
			primary: "A", local: []string{"A", "B"}, valid: []string{"A"}, invalid: []string{"B"},
			remote: sessions("A", true, "B", true),
			want: account.Plan{
				ToCreateRemotely: []account.ID{},
				ToImportLocally:  []account.ImportEntry{{ID: "B", Index: 1}},
			},
		},
		{
			name:    "invalid local account not created",
			primary: "A", local: []string{"A", "B"}, valid: []string{"A"}, invalid: []string{"B"},
			remote: sessions("A", true),
			want:   account.Plan{ToCreateRemotely: []account.ID{}, ToImportLocally: []account.ImportEntry{}},
		},
		{
			name:    "duplicates planned once",
			primary: "A", local: []string{"A", "B"}, valid: []string{"A", "B"},
			remote: sessions("A", true, "C", true, "C", true, "B", false, "B", true, "A", true),
			want: account.Plan{
				ToCreateRemotely: []account.ID{},
				ToImportLocally:  []account.ImportEntry{{ID: "C", Index: 1}},
			},
		},
		{
			name:    "rebuild on primary mismatch",
			primary: "A", local: []string{"A", "B"}, valid: []string{"A", "B"},
			remote: sessions("C", true),
			want:   account.Plan{Rebuild: true, ToCreateRemotely: ids("A", "B"), ToImportLocally: []account.ImportEntry{}},
		},
		{
			name:    "rebuild puts primary first",
			primary: "B", local: []string{"A", "B", "C"}, valid: []string{"A", "B", "C"},
			remote: sessions("A", true, "B", true),
			want:   account.Plan{Rebuild: true, ToCreateRemotely: ids("B", "A", "C"), ToImportLocally: []account.ImportEntry{}},
		},
		{
			name:    "rebuild on empty remote",
			primary: "A", local: []string{"A"}, valid: []string{"A"},
			remote: sessions(),
			want:   account.Plan{Rebuild: true, ToCreateRemotely: ids("A"), ToImportLocally: []account.ImportEntry{}},
		},
		{
			name:    "rebuild keeps invalid primary, drops other invalid",
			primary: "A", local: []string{"A", "B", "C"}, valid: []string{"C"}, invalid: []string{"A", "B"},
			remote: sessions("B", true),
			want:   account.Plan{Rebuild: true, ToCreateRemotely: ids("A", "C"), ToImportLocally: []account.ImportEntry{}},
		},
		{
			name:    "later valid duplicate is imported",
			primary: "A", local: []string{"A", "B", "C"}, valid: []string{"A", "C"}, invalid: []string{"B"},
			remote: sessions("A", true, "B", false, "B", true),
			want: account.Plan{
				ToCreateRemotely: ids("C"),
				ToImportLocally:  []account.ImportEntry{{ID: "B", Index: 2}},
			},
		},
		{
			name:    "later valid duplicate satisfies create",
			primary: "A", local: []string{"A", "B"}, valid: []string{"A", "B"},
			remote: sessions("A", true, "B", false, "B", true),
			want:   account.Plan{ToCreateRemotely: []account.ID{}, ToImportLocally: []account.ImportEntry{}},
		},
		{
			name:    "import uses first valid index",
			primary: "A", local: []string{"A"}, valid: []string{"A"},
			remote: sessions("A", true, "C", false, "C", true, "C", true),
			want: account.Plan{
				ToCreateRemotely: []account.ID{},
				ToImportLocally:  []account.ImportEntry{{ID: "C", Index: 2}},
			},
		},
		{
			name:    "remote primary invalid still counts as primary",
			primary: "A", local: []string{"A"}, valid: []string{"A"},
			remote: sessions("A", false),
			want:   account.Plan{ToCreateRemotely: ids("A"), ToImportLocally: []account.ImportEntry{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := account.NewLocalSet(account.ID(tt.primary), ids(tt.local...))
			got := Plan(local, tt.remote, outcome(tt.valid, tt.invalid))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlan_NoDuplicateEntries(t *testing.T) {
	remote := sessions("A", true, "B", true, "B", true, "C", false, "C", false)
	local := account.NewLocalSet("A", ids("A", "C", "D"))
	got := Plan(local, remote, outcome([]string{"A", "C", "D"}, nil))

	seen := account.Set{}
	for _, id := range got.ToCreateRemotely {
		assert.False(t, seen.Has(id), "duplicate create %s", id)
		seen.Add(id)
	}
	seen = account.Set{}
	for _, e := range got.ToImportLocally {
		assert.False(t, seen.Has(e.ID), "duplicate import %s", e.ID)
		seen.Add(e.ID)
	}
	assert.Equal(t, ids("C", "D"), got.ToCreateRemotely)
	assert.Equal(t, []account.ImportEntry{{ID: "B", Index: 1}}, got.ToImportLocally)
}

func TestValidator(t *testing.T) {
	v := newValidator(ids("A", "B"))
	assert.False(t, v.done())
	assert.Equal(t, 2, v.unresolved())

	assert.False(t, v.resolve("Z", true), "unknown account")
	assert.True(t, v.resolve("A", true))
	assert.False(t, v.resolve("A", false), "first result wins")
	assert.False(t, v.done(), "AND-gate: B still pending")

	assert.True(t, v.resolve("B", false))
	assert.True(t, v.done())
	assert.True(t, v.outcome.Invalid.Has("B"))
}
