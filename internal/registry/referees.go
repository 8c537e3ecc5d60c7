package registry

import (
	"context"

	"github.com/nao1215/refpush/internal/push"
	"github.com/nao1215/refpush/internal/store"
)

func toReferee(r store.Referee) push.Referee {
	return push.Referee{
		ID:          r.ID,
		DisplayName: r.DisplayName,
		Email:       r.Email,
		Active:      r.IsActive,
	}
}

func toReferees(rows []store.Referee) []push.Referee {
	refs := make([]push.Referee, 0, len(rows))
	for _, r := range rows {
		refs = append(refs, toReferee(r))
	}
	return refs
}

// ActiveReferees は有効な審判をすべて返す。
func (r *Registry) ActiveReferees(ctx context.Context) ([]push.Referee, error) {
	rows, err := r.q.ListActiveReferees(ctx)
	if err != nil {
		return nil, err
	}
	return toReferees(rows), nil
}

// Referees は指定したIDの審判を返す。ミラーにない審判は含まれない。
func (r *Registry) Referees(ctx context.Context, ids []string) ([]push.Referee, error) {
	rows, err := r.q.GetRefereesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return toReferees(rows), nil
}

// SyncReferee はアカウント管理から受け取った審判の情報をミラーに反映する。
func (r *Registry) SyncReferee(ctx context.Context, ref push.Referee) error {
	return r.q.UpsertReferee(ctx, store.Referee{
		ID:          ref.ID,
		DisplayName: ref.DisplayName,
		Email:       ref.Email,
		IsActive:    ref.Active,
		UpdatedAt:   r.now(),
	})
}
