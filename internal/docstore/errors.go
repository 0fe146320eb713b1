package docstore

import (
	"github.com/weftrun/weave/internal/value"
	"github.com/weftrun/weave/internal/weaveerr"
)

func errAlreadyRegistered(space string, id value.EntityID) error {
	return weaveerr.New(weaveerr.InvalidIdentity, "a different document is already registered at this id", map[string]any{
		"space": space,
		"id":    string(id),
	})
}
