package engine

import "github.com/roach88/reconcilor/internal/account"

// Plan computes the convergence diff between the local snapshot and the
// remote session list. It is pure: the same inputs always give the same plan.
//
// Normal path (the remote primary equals the local primary):
//   - import every remote-valid session the local valid set lacks, with its
//     remote index
//   - create every local-valid account that has no remote-valid session, in
//     local order
//
// Rebuild path (primary mismatch, or no remote sessions): destroy every
// remote session, then create the local primary followed by every other
// local-valid account.
//
// A remote id listed more than once is remote-valid when any of its entries
// is valid, and is imported once, from its first valid index.
func Plan(local account.LocalSet, remote account.RemoteSessionList, outcome account.ValidationOutcome) account.Plan {
	remotePrimary, ok := remote.Primary()
	if !ok || local.Primary == "" || remotePrimary != local.Primary {
		return rebuildPlan(local, outcome)
	}

	plan := account.Plan{
		ToCreateRemotely: []account.ID{},
		ToImportLocally:  []account.ImportEntry{},
	}

	remoteValid := make(account.Set, len(remote))
	for i, s := range remote {
		if !s.Valid || remoteValid.Has(s.ID) {
			continue
		}
		remoteValid.Add(s.ID)
		if !outcome.Valid.Has(s.ID) {
			plan.ToImportLocally = append(plan.ToImportLocally, account.ImportEntry{ID: s.ID, Index: i})
		}
	}

	for _, id := range outcome.ValidIn(local.Accounts) {
		if !remoteValid.Has(id) {
			plan.ToCreateRemotely = append(plan.ToCreateRemotely, id)
		}
	}

	return plan
}

func rebuildPlan(local account.LocalSet, outcome account.ValidationOutcome) account.Plan {
	plan := account.Plan{
		Rebuild:          true,
		ToCreateRemotely: []account.ID{},
		ToImportLocally:  []account.ImportEntry{},
	}
	// The primary goes first even when its probe failed.
	if local.Primary != "" {
		plan.ToCreateRemotely = append(plan.ToCreateRemotely, local.Primary)
	}
	for _, id := range outcome.ValidIn(local.Accounts) {
		if id != local.Primary {
			plan.ToCreateRemotely = append(plan.ToCreateRemotely, id)
		}
	}
	return plan
}
