// Package resolver maps contract addresses to the space that owns them.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log"

	"kgsink/internal/address"
	"kgsink/internal/store"
)

var ErrSpaceNotFound = errors.New("space not found")

type SpaceStore interface {
	FindSpaceBy(ctx context.Context, role store.PluginRole, address string) (store.Space, error)
	UpsertSpaces(ctx context.Context, spaces []store.Space) error
}

// Resolver is a read-through cache in front of the space registry. Only
// hits are cached, so a space registered later is found on the next lookup.
type Resolver struct {
	store SpaceStore
	cache Cache
}

func New(spaces SpaceStore, cache Cache) *Resolver {
	if cache == nil {
		cache = nopCache{}
	}
	return &Resolver{store: spaces, cache: cache}
}

func (r *Resolver) ForVotingPlugin(ctx context.Context, addr string) (store.Space, error) {
	return r.resolve(ctx, store.RoleVotingPlugin, addr)
}

func (r *Resolver) ForMembershipPlugin(ctx context.Context, addr string) (store.Space, error) {
	return r.resolve(ctx, store.RoleMembershipPlugin, addr)
}

func (r *Resolver) ForPersonalPlugin(ctx context.Context, addr string) (store.Space, error) {
	return r.resolve(ctx, store.RolePersonalPlugin, addr)
}

func (r *Resolver) ForSpacePlugin(ctx context.Context, addr string) (store.Space, error) {
	return r.resolve(ctx, store.RoleSpacePlugin, addr)
}

func (r *Resolver) ForDAO(ctx context.Context, addr string) (store.Space, error) {
	return r.resolve(ctx, store.RoleDAO, addr)
}

func (r *Resolver) resolve(ctx context.Context, role store.PluginRole, addr string) (store.Space, error) {
	normalized, err := address.Checksum(addr)
	if err != nil {
		return store.Space{}, fmt.Errorf("resolve %s %q: %w: %w", role, addr, ErrSpaceNotFound, err)
	}

	key := cacheKey(role, normalized)
	if space, ok, err := r.cache.Get(ctx, key); err != nil {
		log.Printf("resolver: cache get failed key=%s err=%v", key, err)
	} else if ok {
		return space, nil
	}

	space, err := r.store.FindSpaceBy(ctx, role, normalized)
	if errors.Is(err, store.ErrNotFound) {
		return store.Space{}, fmt.Errorf("resolve %s %s: %w", role, normalized, ErrSpaceNotFound)
	}
	if err != nil {
		return store.Space{}, fmt.Errorf("resolve %s %s: %w", role, normalized, err)
	}

	if err := r.cache.Set(ctx, key, space); err != nil {
		log.Printf("resolver: cache set failed key=%s err=%v", key, err)
	}
	return space, nil
}

// RegisterSpace normalizes and upserts a space, then drops every cached
// entry for its addresses so lookups see the merged row.
func (r *Resolver) RegisterSpace(ctx context.Context, space store.Space) (store.Space, error) {
	normalized, err := normalizeSpace(space)
	if err != nil {
		return store.Space{}, err
	}
	if err := r.store.UpsertSpaces(ctx, []store.Space{normalized}); err != nil {
		return store.Space{}, fmt.Errorf("register space %s: %w", normalized.ID, err)
	}
	r.Invalidate(ctx, normalized)

	merged, err := r.store.FindSpaceBy(ctx, store.RoleDAO, normalized.DAOAddress)
	if err != nil {
		return normalized, fmt.Errorf("reload space %s: %w", normalized.ID, err)
	}
	r.Invalidate(ctx, merged)
	return merged, nil
}

// Invalidate removes the cache entries for every address of space.
func (r *Resolver) Invalidate(ctx context.Context, space store.Space) {
	keys := spaceKeys(space)
	if len(keys) == 0 {
		return
	}
	if err := r.cache.Delete(ctx, keys...); err != nil {
		log.Printf("resolver: cache invalidate failed space=%s err=%v", space.ID, err)
	}
}

func normalizeSpace(space store.Space) (store.Space, error) {
	fields := []*string{
		&space.DAOAddress,
		&space.SpacePluginAddress,
		&space.MainVotingPluginAddress,
		&space.MemberAccessPluginAddress,
		&space.PersonalSpaceAdminPluginAddress,
	}
	for _, field := range fields {
		if *field == "" {
			continue
		}
		checksummed, err := address.Checksum(*field)
		if err != nil {
			return store.Space{}, fmt.Errorf("normalize space address %q: %w", *field, err)
		}
		*field = checksummed
	}
	if space.DAOAddress == "" {
		return store.Space{}, fmt.Errorf("normalize space: dao address required: %w", address.ErrInvalid)
	}
	space.ID = space.DAOAddress
	return space, nil
}

func spaceKeys(space store.Space) []string {
	pairs := []struct {
		role store.PluginRole
		addr string
	}{
		{store.RoleDAO, space.DAOAddress},
		{store.RoleSpacePlugin, space.SpacePluginAddress},
		{store.RoleVotingPlugin, space.MainVotingPluginAddress},
		{store.RoleMembershipPlugin, space.MemberAccessPluginAddress},
		{store.RolePersonalPlugin, space.PersonalSpaceAdminPluginAddress},
	}
	var keys []string
	for _, pair := range pairs {
		if pair.addr != "" {
			keys = append(keys, cacheKey(pair.role, pair.addr))
		}
	}
	return keys
}

func cacheKey(role store.PluginRole, checksummed string) string {
	return string(role) + ":" + checksummed
}
