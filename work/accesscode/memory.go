package accesscode

import (
	"context"
	"sort"
	"time"

	"iptv-gate/work/types"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryRepository keeps access codes in process memory. Codes do not survive a restart.
type MemoryRepository struct {
	codes *xsync.MapOf[string, types.AccessCode]
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{codes: xsync.NewMapOf[string, types.AccessCode]()}
}

func (m *MemoryRepository) InsertAccessCode(_ context.Context, ac *types.AccessCode) error {
	m.codes.Store(ac.Code, *ac)
	return nil
}

func (m *MemoryRepository) GetAccessCode(_ context.Context, code string) (*types.AccessCode, error) {
	ac, ok := m.codes.Load(code)
	if !ok {
		return nil, nil
	}
	return &ac, nil
}

// ConsumeAccessCode checks and increments under the map's per-key lock.
func (m *MemoryRepository) ConsumeAccessCode(_ context.Context, code string, now time.Time) (*types.AccessCode, error) {
	consumed := false
	updated, ok := m.codes.Compute(code, func(old types.AccessCode, loaded bool) (types.AccessCode, bool) {
		if !loaded {
			return old, true
		}
		if !old.IsActive || old.ExpiredAt(now) || old.Exhausted() {
			return old, false
		}
		old.CurrentUses++
		consumed = true
		return old, false
	})
	if !ok || !consumed {
		return nil, nil
	}
	return &updated, nil
}

func (m *MemoryRepository) ListAccessCodes(_ context.Context, createdBy string) ([]*types.AccessCode, error) {
	var out []*types.AccessCode
	m.codes.Range(func(_ string, ac types.AccessCode) bool {
		if createdBy == "" || ac.CreatedBy == createdBy {
			out = append(out, &ac)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) DeactivateAccessCode(_ context.Context, code string) (bool, error) {
	found := false
	m.codes.Compute(code, func(old types.AccessCode, loaded bool) (types.AccessCode, bool) {
		if !loaded {
			return old, true
		}
		found = true
		old.IsActive = false
		return old, false
	})
	return found, nil
}
