package manifest

import (
	"fmt"
	"path/filepath"

	"github.com/weftrun/weave/internal/provider"
	"github.com/weftrun/weave/internal/syncmgr"
)

// NewProviderFactory returns a syncmgr.ProviderFactory that opens the
// sqlite-backed reference provider named by the manifest for each
// space, resolving relative paths against baseDir. Spaces configured
// as ProviderNone (or not listed at all) report an error whenever the
// manager asks for them, which Sync, DrainUpdates and pushes then
// return; only documents marked ephemeral skip the request, since
// pushOne returns for them before providerFor is reached (§3
// invariant 4).
func (m *Manifest) NewProviderFactory(baseDir string) syncmgr.ProviderFactory {
	return func(space string) (*provider.Provider, error) {
		sc, ok := m.SpaceByName(space)
		if !ok || sc.Provider == ProviderNone {
			return nil, fmt.Errorf("manifest: space %s has no storage provider configured", space)
		}
		if sc.Provider != ProviderSQLite {
			return nil, fmt.Errorf("manifest: space %s: unsupported provider %q", space, sc.Provider)
		}

		path := sc.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		return provider.Open(path, space)
	}
}
